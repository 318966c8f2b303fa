package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"fieldnotes/internal/logging"
	"fieldnotes/internal/pipeline"
	"fieldnotes/internal/services"
	"fieldnotes/internal/store"
	"fieldnotes/internal/transcript"
)

const defaultMaxUploadBytes = 10 << 20

// Analyzer runs the analysis pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// PersonaStore is the persona side of the store.
type PersonaStore interface {
	CreatePersona(ctx context.Context, ownerID, name, color string) (*store.Persona, error)
	ListPersonas(ctx context.Context, ownerID string) ([]store.Persona, error)
	LinkPersonas(ctx context.Context, interviewID int64, personaIDs []int64) error
	InterviewPersonas(ctx context.Context, interviewID int64) ([]store.Persona, error)
	Ping(ctx context.Context) error
}

// Options configure a Server.
type Options struct {
	Token          string
	MaxUploadBytes int64
	DefaultOwner   string
	Model          string
	Logger         *slog.Logger
}

// Server routes HTTP requests to the pipeline and persona store.
type Server struct {
	analyzer Analyzer
	personas PersonaStore
	opts     Options
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer builds the HTTP handler.
func NewServer(analyzer Analyzer, personas PersonaStore, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		analyzer: analyzer,
		personas: personas,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/analyze", s.authMiddleware(opts.Token, s.handleAnalyze))
	s.mux.HandleFunc("GET /api/personas", s.authMiddleware(opts.Token, s.handleListPersonas))
	s.mux.HandleFunc("POST /api/personas", s.authMiddleware(opts.Token, s.handleCreatePersona))
	s.mux.HandleFunc("POST /api/interviews/{id}/personas", s.authMiddleware(opts.Token, s.handleLinkPersonas))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok", Model: s.opts.Model}
	status := http.StatusOK
	if err := s.personas.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	content, filename, err := s.readTranscript(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "too_large",
				Message: fmt.Sprintf("The transcript exceeds the %d byte upload limit.", tooLarge.Limit),
			})
			return
		}
		s.writeError(w, err, nil)
		return
	}

	req, err := s.analyzeRequest(r, content, filename)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	resp, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.writeError(w, err, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, AnalyzeResponse{
		Result:             resp.Result,
		RequestID:          resp.RequestID,
		Outcome:            resp.Outcome,
		PersonaSuggestions: resp.Personas,
		Truncated:          resp.Truncated,
	})
}

// readTranscript returns the uploaded bytes from a multipart "file" field or
// the raw request body.
func (s *Server) readTranscript(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		content, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", fmt.Errorf("read body: %w", err)
		}
		return content, "", nil
	}

	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", err
		}
		return nil, "", services.Wrap(services.ErrValidation, "request", "parse form", "invalid multipart body", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "request", "parse form", `multipart field "file" is required`, err)
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	return content, header.Filename, nil
}

func (s *Server) analyzeRequest(r *http.Request, content []byte, filename string) (pipeline.Request, error) {
	req := pipeline.Request{
		Content:       content,
		OwnerID:       s.owner(r.FormValue("owner")),
		Interviewer:   strings.TrimSpace(r.FormValue("interviewer")),
		InterviewDate: strings.TrimSpace(r.FormValue("interview_date")),
		Title:         strings.TrimSpace(r.FormValue("title")),
	}

	format, err := transcript.ParseFormat(r.FormValue("format"))
	if err != nil {
		return req, services.Wrap(services.ErrValidation, "request", "analyze", err.Error(), nil)
	}
	if format == transcript.FormatAuto && strings.EqualFold(filepath.Ext(filename), ".vtt") {
		format = transcript.FormatVTT
	}
	req.Format = format

	if value := strings.TrimSpace(r.FormValue("project_id")); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return req, services.Wrap(services.ErrValidation, "request", "analyze", fmt.Sprintf("project_id %q is not a positive integer", value), nil)
		}
		req.ProjectID = &id
	}
	if req.PersonaIDs, err = parseIDList(r.FormValue("persona_ids")); err != nil {
		return req, err
	}
	if req.SuggestPersonas, err = parseFlag(r.FormValue("suggest_personas"), "suggest_personas"); err != nil {
		return req, err
	}
	if req.DryRun, err = parseFlag(r.FormValue("dry_run"), "dry_run"); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := s.personas.ListPersonas(r.Context(), s.owner(r.URL.Query().Get("owner")))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, PersonaListResponse{Personas: personas})
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var body CreatePersonaRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		s.writeError(w, err, nil)
		return
	}
	created, err := s.personas.CreatePersona(r.Context(), s.owner(body.Owner), body.Name, body.Color)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleLinkPersonas(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, services.Wrap(services.ErrValidation, "request", "link personas", "invalid interview id", nil), nil)
		return
	}
	var body LinkPersonasRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		s.writeError(w, err, nil)
		return
	}
	if len(body.PersonaIDs) == 0 {
		s.writeError(w, services.Wrap(services.ErrValidation, "request", "link personas", "persona_ids is required", nil), nil)
		return
	}
	if err := s.personas.LinkPersonas(r.Context(), id, body.PersonaIDs); err != nil {
		s.writeError(w, err, nil)
		return
	}
	linked, err := s.personas.InterviewPersonas(r.Context(), id)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, LinkPersonasResponse{InterviewID: id, Personas: linked})
}

func (s *Server) owner(value string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return s.opts.DefaultOwner
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return services.Wrap(services.ErrValidation, "request", "decode body", "invalid JSON body", err)
	}
	return nil
}

func parseIDList(value string) ([]int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, services.Wrap(services.ErrValidation, "request", "analyze", fmt.Sprintf("persona id %q is not a positive integer", part), nil)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseFlag(value, name string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}
	flag, err := strconv.ParseBool(value)
	if err != nil {
		return false, services.Wrap(services.ErrValidation, "request", "analyze", fmt.Sprintf("%s must be true or false", name), nil)
	}
	return flag, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError renders err with its mapped status. resp contributes the
// request id and any partial result.
func (s *Server) writeError(w http.ResponseWriter, err error, resp *pipeline.Response) {
	status := StatusFor(err)
	body := ErrorResponse{
		Error:   string(services.Kind(err)),
		Message: services.UserMessage(err),
	}
	if status < http.StatusInternalServerError || status == http.StatusBadGateway {
		body.Detail = err.Error()
	}
	if resp != nil {
		body.RequestID = resp.RequestID
		if resp.Result != nil && (len(resp.Result.ProblemAreas) > 0 || resp.Result.Synthesis != nil) {
			body.Partial = resp.Result
		}
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "request failed", "api_request_failed",
			logging.String("request_id", body.RequestID),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, body)
}
