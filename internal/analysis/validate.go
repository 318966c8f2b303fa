package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"fieldnotes/internal/logging"
	"fieldnotes/internal/services/llm"
	"fieldnotes/internal/textutil"
	"fieldnotes/internal/transcript"
)

type problemsPayload struct {
	ProblemAreas []problemCandidate `json:"problem_areas" validate:"required,min=1,dive"`
}

type problemCandidate struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
}

type excerptsPayload struct {
	Excerpts *[]excerptCandidate `json:"excerpts" validate:"required"`
}

type excerptCandidate struct {
	Quote       string          `json:"quote"`
	Categories  []string        `json:"categories"`
	Insight     string          `json:"insight"`
	ChunkNumber json.RawMessage `json:"chunk_number"`
}

type synthesisPayload struct {
	Background   string   `json:"background" validate:"required"`
	ProblemAreas []string `json:"problem_areas"`
	NextSteps    []string `json:"next_steps"`
}

// ExcerptReport counts excerpts kept and dropped during field-level repair.
type ExcerptReport struct {
	Kept    int
	Dropped int
}

// Validator decodes and checks one run's model output against the transcript
// it was produced from.
type Validator struct {
	transcriptLength int
	units            []transcript.Unit
	validate         *validator.Validate
	logger           *slog.Logger
}

// NewValidator builds a validator for a transcript of transcriptLength chunks.
// When units is non-empty, chunk references must also be covered by a unit.
func NewValidator(transcriptLength int, units []transcript.Unit, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Validator{
		transcriptLength: transcriptLength,
		units:            units,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		logger:           logger,
	}
}

// DecodeProblems parses EXTRACT_PROBLEMS output. A bare array of problem
// objects is accepted in place of the envelope.
func (v *Validator) DecodeProblems(raw string) ([]ProblemArea, error) {
	var payload problemsPayload
	if err := decodeEnvelope(raw, &payload, &payload.ProblemAreas); err != nil {
		return nil, &OutputParseError{Stage: StateExtractProblems, Err: err}
	}
	for i := range payload.ProblemAreas {
		payload.ProblemAreas[i].Title = textutil.CollapseWhitespace(payload.ProblemAreas[i].Title)
		payload.ProblemAreas[i].Description = strings.TrimSpace(payload.ProblemAreas[i].Description)
	}
	if err := v.validate.Struct(payload); err != nil {
		return nil, schemaError(StateExtractProblems, err)
	}
	problems := make([]ProblemArea, 0, len(payload.ProblemAreas))
	for i, candidate := range payload.ProblemAreas {
		problems = append(problems, ProblemArea{
			ProblemID:   problemID(i),
			Title:       candidate.Title,
			Description: candidate.Description,
			Excerpts:    []Excerpt{},
		})
	}
	return problems, nil
}

// DecodeExcerpts parses EXTRACT_EXCERPTS output for one problem area.
// Excerpts without a quote or citing an unknown chunk are dropped and logged;
// unknown categories are stripped.
func (v *Validator) DecodeExcerpts(raw, problemID string) ([]Excerpt, ExcerptReport, error) {
	var (
		payload    excerptsPayload
		candidates []excerptCandidate
	)
	if err := decodeEnvelope(raw, &payload, &candidates); err != nil {
		return nil, ExcerptReport{}, &OutputParseError{Stage: StateExtractExcerpts, Err: err}
	}
	if candidates == nil {
		if err := v.validate.Struct(payload); err != nil {
			return nil, ExcerptReport{}, schemaError(StateExtractExcerpts, err)
		}
		candidates = *payload.Excerpts
	}

	var report ExcerptReport
	excerpts := make([]Excerpt, 0, len(candidates))
	for _, candidate := range candidates {
		quote := strings.TrimSpace(candidate.Quote)
		if quote == "" {
			report.Dropped++
			v.logDrop(problemID, 0, "missing quote")
			continue
		}
		number, ok := parseChunkNumber(candidate.ChunkNumber)
		if !ok {
			report.Dropped++
			v.logDrop(problemID, 0, fmt.Sprintf("chunk_number %s is not a number", strings.TrimSpace(string(candidate.ChunkNumber))))
			continue
		}
		if !v.validReference(number) {
			report.Dropped++
			v.logDrop(problemID, number, "chunk_number outside transcript")
			continue
		}
		excerpts = append(excerpts, Excerpt{
			Quote:       quote,
			Categories:  v.cleanCategories(problemID, candidate.Categories),
			Insight:     strings.TrimSpace(candidate.Insight),
			ChunkNumber: number,
		})
	}
	report.Kept = len(excerpts)
	return excerpts, report, nil
}

// DecodeSynthesis parses SYNTHESIZE output.
func (v *Validator) DecodeSynthesis(raw string) (*Synthesis, error) {
	var payload synthesisPayload
	if err := llm.DecodeStrictJSON(raw, &payload); err != nil {
		return nil, &OutputParseError{Stage: StateSynthesize, Err: err}
	}
	payload.Background = strings.TrimSpace(payload.Background)
	if err := v.validate.Struct(payload); err != nil {
		return nil, schemaError(StateSynthesize, err)
	}
	return &Synthesis{
		Background:   payload.Background,
		ProblemAreas: cleanStrings(payload.ProblemAreas),
		NextSteps:    cleanStrings(payload.NextSteps),
	}, nil
}

// ValidReference reports whether n may be cited by an excerpt.
func (v *Validator) ValidReference(n int) bool {
	return v.validReference(n)
}

func (v *Validator) validReference(n int) bool {
	if n < 1 || n > v.transcriptLength {
		return false
	}
	if len(v.units) == 0 {
		return true
	}
	return transcript.ResolveReference(v.units, n)
}

func (v *Validator) cleanCategories(problemID string, values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		key, ok := NormalizeCategory(value)
		if !ok {
			v.logger.Debug("unknown excerpt category dropped",
				logging.String(logging.FieldProblemID, problemID),
				logging.String("category", value),
				logging.String(logging.FieldEventType, "category_dropped"),
			)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	if len(out) == 0 {
		out = append(out, CategoryContext)
	}
	return out
}

func (v *Validator) logDrop(problemID string, chunk int, reason string) {
	logging.WarnWithContext(v.logger, "excerpt dropped", "excerpt_dropped",
		logging.String(logging.FieldProblemID, problemID),
		logging.Int("chunk_number", chunk),
		logging.Int("transcript_length", v.transcriptLength),
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "model cited a chunk that does not exist; excerpt omitted"),
		logging.String(logging.FieldImpact, "problem area has fewer supporting excerpts"),
	)
}

// decodeEnvelope decodes raw into envelope, falling back to a bare array
// decoded into list. Both decodes reject unknown fields.
func decodeEnvelope(raw string, envelope any, list any) error {
	envErr := llm.DecodeStrictJSON(raw, envelope)
	if envErr == nil {
		return nil
	}
	if err := llm.DecodeStrictJSON(raw, list); err == nil {
		return nil
	}
	return envErr
}

// parseChunkNumber accepts a JSON integer or a string of digits.
func parseChunkNumber(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		n, err := strconv.Atoi(number.String())
		return n, err == nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(text)
	return n, err == nil
}

func schemaError(stage State, err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Stage:  stage,
			Field:  jsonFieldPath(fe.Namespace()),
			Reason: fmt.Sprintf("failed %q check", fe.Tag()),
		}
	}
	return &ValidationError{Stage: stage, Reason: err.Error()}
}

// jsonFieldPath turns "problemsPayload.ProblemAreas[0].Title" into
// "ProblemAreas[0].Title".
func jsonFieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func cleanStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func problemID(index int) string {
	return "pa-" + strconv.Itoa(index+1)
}
