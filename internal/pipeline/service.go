package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/config"
	"fieldnotes/internal/logging"
	"fieldnotes/internal/persist"
	"fieldnotes/internal/persona"
	"fieldnotes/internal/retry"
	"fieldnotes/internal/services"
	"fieldnotes/internal/store"
	"fieldnotes/internal/transcript"
)

const defaultMaxConcurrentRuns = 2

// Storage is what the pipeline needs from the store.
type Storage interface {
	persist.Storage
	ListPersonas(ctx context.Context, ownerID string) ([]store.Persona, error)
	CheckAssociations(ctx context.Context, ownerID string, projectID *int64, personaIDs []int64) error
}

// Options tune a Service. Zero values use defaults.
type Options struct {
	MaxConcurrentRuns int
	PipelineTimeout   time.Duration
	Analysis          analysis.Options
	Persona           persona.Options
	Logger            *slog.Logger
}

// OptionsFromConfig maps configuration onto service options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	policy := retry.Policy{
		MaxAttempts: cfg.Analysis.MaxAttempts,
		BaseDelay:   cfg.BackoffBase(),
		MaxDelay:    cfg.BackoffMax(),
	}
	return Options{
		MaxConcurrentRuns: cfg.Analysis.MaxConcurrentRuns,
		PipelineTimeout:   cfg.PipelineTimeout(),
		Analysis: analysis.Options{
			Policy:         policy,
			ExcerptWorkers: cfg.Analysis.ExcerptWorkers,
			CallTimeout:    cfg.CallTimeout(),
			StageTimeout:   cfg.StageTimeout(),
			Normalize: transcript.NormalizeOptions{
				MinChars: cfg.Analysis.MergeMinChars,
				MaxChars: cfg.Analysis.SplitMaxChars,
			},
			PromptBudgetChars: cfg.Analysis.PromptBudgetChars,
			Logger:            logger,
		},
		Persona: persona.Options{
			Policy:         policy,
			CallTimeout:    cfg.CallTimeout(),
			MaxSuggestions: cfg.Analysis.MaxPersonaSuggestions,
			Logger:         logger,
		},
		Logger: logger,
	}
}

// Request is one analysis request.
type Request struct {
	Content         []byte
	Format          transcript.Format
	OwnerID         string
	ProjectID       *int64
	Interviewer     string
	InterviewDate   string
	Title           string
	PersonaIDs      []int64
	SuggestPersonas bool
	DryRun          bool
}

// Response carries whatever the run produced. Result is set on success and,
// when available, alongside an error: partial for analysis failures,
// complete for storage failures.
type Response struct {
	RequestID       string              `json:"request_id"`
	Outcome         analysis.Outcome    `json:"outcome"`
	Result          *analysis.Result    `json:"result,omitempty"`
	Personas        *persona.Suggestion `json:"personas,omitempty"`
	Truncated       bool                `json:"truncated,omitempty"`
	ExcerptsDropped int                 `json:"excerpts_dropped,omitempty"`
}

// Service runs analyses.
type Service struct {
	orchestrator *analysis.Orchestrator
	matcher      *persona.Matcher
	mapper       *persist.Mapper
	storage      Storage
	sem          *semaphore.Weighted
	opts         Options
	logger       *slog.Logger
	now          func() time.Time
}

// NewService wires the pipeline around llm and storage.
func NewService(llm analysis.Completer, storage Storage, opts Options) *Service {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = defaultMaxConcurrentRuns
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Analysis.Logger == nil {
		opts.Analysis.Logger = logger
	}
	if opts.Persona.Logger == nil {
		opts.Persona.Logger = logger
	}
	return &Service{
		orchestrator: analysis.NewOrchestrator(llm, opts.Analysis),
		matcher:      persona.NewMatcher(llm, opts.Persona),
		mapper:       persist.NewMapper(storage, logger),
		storage:      storage,
		sem:          semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
		opts:         opts,
		logger:       logging.NewComponentLogger(logger, "pipeline"),
		now:          time.Now,
	}
}

// Analyze parses, analyzes and, unless DryRun is set, persists one transcript.
func (s *Service) Analyze(ctx context.Context, req Request) (*Response, error) {
	resp := &Response{RequestID: uuid.NewString(), Outcome: analysis.OutcomeFailed}
	ctx = services.WithRequestID(ctx, resp.RequestID)
	if s.opts.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.PipelineTimeout)
		defer cancel()
	}
	logger := logging.WithContext(ctx, s.logger)

	if err := validateRequest(req); err != nil {
		return resp, err
	}
	if err := s.checkAssociations(ctx, req); err != nil {
		logging.WarnWithContext(logger, "request references unknown project or personas", "request_rejected",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no analysis was run"),
		)
		return resp, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return resp, fmt.Errorf("wait for analysis slot: %w", err)
	}
	defer s.sem.Release(1)

	started := time.Now()
	chunks, err := transcript.Parse(req.Content, req.Format)
	if err != nil {
		logging.WarnWithContext(logger, "transcript rejected", "transcript_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "upload WebVTT or plain 'Speaker: text' lines"),
			logging.String(logging.FieldImpact, "no analysis was run"),
		)
		return resp, err
	}
	logger.Info("transcript parsed",
		logging.String(logging.FieldEventType, "transcript_parsed"),
		logging.Int("chunks", len(chunks)),
	)

	run, err := s.orchestrator.Run(ctx, chunks)
	if run != nil {
		resp.Outcome = run.Outcome
		resp.Result = run.Result
		resp.Truncated = run.Truncated
		resp.ExcerptsDropped = run.Dropped
	}
	if err != nil {
		logger.Info("analysis not saved", logging.Args(logging.DecisionAttrs("persist", "skipped", "analysis incomplete")...)...)
		return resp, err
	}

	if req.SuggestPersonas {
		resp.Personas = s.suggestPersonas(ctx, req.OwnerID, run.Result)
	}

	if req.DryRun {
		attrs := logging.DecisionAttrs("persist", "skipped", "dry run")
		attrs = append(attrs,
			logging.String(logging.FieldEventType, "analysis_dry_run"),
			logging.Duration("elapsed", time.Since(started)),
		)
		logger.Info("dry run; analysis not saved", logging.Args(attrs...)...)
		return resp, nil
	}

	if err := ctx.Err(); err != nil {
		return resp, fmt.Errorf("analysis cancelled before save: %w", err)
	}
	if _, err := s.Persist(ctx, run.Result, req); err != nil {
		return resp, err
	}
	logger.Info("analysis saved",
		logging.String(logging.FieldEventType, "analysis_saved"),
		logging.Int64(logging.FieldInterviewID, run.Result.Storage.ID),
		logging.Duration("elapsed", time.Since(started)),
	)
	return resp, nil
}

// Persist writes a complete result. It is used by Analyze and to retry a
// save that failed after a successful analysis. On success result.Storage is
// set.
func (s *Service) Persist(ctx context.Context, result *analysis.Result, req Request) (analysis.StorageRef, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return analysis.StorageRef{}, &analysis.ValidationError{Stage: "persist", Field: "owner", Reason: "owner is required to save"}
	}
	if err := s.checkAssociations(ctx, req); err != nil {
		return analysis.StorageRef{}, err
	}
	plan, err := persist.BuildPlan(result, persist.PlanOptions{
		OwnerID:       req.OwnerID,
		ProjectID:     req.ProjectID,
		Interviewer:   req.Interviewer,
		InterviewDate: req.InterviewDate,
		Title:         req.Title,
		PersonaIDs:    req.PersonaIDs,
		ContentHash:   ContentHash(req.Content),
		Now:           s.now,
	})
	if err != nil {
		return analysis.StorageRef{}, err
	}
	ref, err := s.mapper.Persist(ctx, plan)
	if err != nil {
		var storageErr *persist.StorageError
		if errors.As(err, &storageErr) {
			logging.ErrorWithContext(logging.WithContext(ctx, s.logger), "analysis could not be saved", "analysis_save_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the database file and disk space, then retry saving"),
			)
		}
		return analysis.StorageRef{}, err
	}
	result.Storage = &ref
	return ref, nil
}

// checkAssociations resolves the request's project and personas against its
// owner so bad references fail before any LLM call.
func (s *Service) checkAssociations(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.OwnerID) == "" || (req.ProjectID == nil && len(req.PersonaIDs) == 0) {
		return nil
	}
	return s.storage.CheckAssociations(ctx, req.OwnerID, req.ProjectID, req.PersonaIDs)
}

// suggestPersonas is best effort: a failure is logged and the analysis is
// still saved.
func (s *Service) suggestPersonas(ctx context.Context, ownerID string, result *analysis.Result) *persona.Suggestion {
	logger := logging.WithContext(ctx, s.logger)
	existing, err := s.storage.ListPersonas(ctx, ownerID)
	if err != nil {
		logging.WarnWithContext(logger, "persona list unavailable", "persona_list_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no persona suggestions for this interview"),
		)
		return nil
	}
	suggestion, err := s.matcher.Suggest(ctx, result, existing)
	if err != nil {
		logging.WarnWithContext(logger, "persona suggestion failed", "persona_suggestion_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no persona suggestions for this interview"),
			logging.String(logging.FieldErrorHint, "tag personas manually"),
		)
		return nil
	}
	return &suggestion
}

// ContentHash returns the hex SHA-256 of raw transcript bytes.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func validateRequest(req Request) error {
	if len(req.Content) == 0 {
		return &transcript.FormatError{Format: req.Format, Reason: "transcript is empty"}
	}
	if !req.DryRun && strings.TrimSpace(req.OwnerID) == "" {
		return services.Wrap(services.ErrValidation, "request", "analyze", "owner is required", nil)
	}
	if req.SuggestPersonas && strings.TrimSpace(req.OwnerID) == "" {
		return services.Wrap(services.ErrValidation, "request", "analyze", "owner is required for persona suggestions", nil)
	}
	if req.InterviewDate != "" {
		if _, err := time.Parse(time.DateOnly, req.InterviewDate); err != nil {
			return services.Wrap(services.ErrValidation, "request", "analyze",
				fmt.Sprintf("interview date %q is not YYYY-MM-DD", req.InterviewDate), nil)
		}
	}
	return nil
}
