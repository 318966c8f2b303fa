package persist

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/textutil"
)

const (
	maxTitleRunes = 80
	// planStage tags validation errors raised while building a plan.
	planStage analysis.State = "persist"
)

// PlanOptions carries the caller-supplied associations and metadata.
type PlanOptions struct {
	OwnerID       string
	ProjectID     *int64
	Interviewer   string
	InterviewDate string
	Title         string
	PersonaIDs    []int64
	ContentHash   string
	Now           func() time.Time
}

// PlannedProblemArea pairs a problem area row with its excerpt rows.
type PlannedProblemArea struct {
	Row      ProblemAreaRow
	Excerpts []ExcerptRow
}

// Plan is the full row tree for one interview.
type Plan struct {
	Interview    InterviewRow
	ProblemAreas []PlannedProblemArea
	PersonaIDs   []int64
}

// RowCount reports how many interview, problem area and excerpt rows the plan writes.
func (p Plan) RowCount() (interviews, problemAreas, excerpts int) {
	for _, pa := range p.ProblemAreas {
		excerpts += len(pa.Excerpts)
	}
	return 1, len(p.ProblemAreas), excerpts
}

// BuildPlan converts a complete result into rows. Incomplete results and
// excerpts citing chunks outside [1, transcript length] are rejected.
func BuildPlan(result *analysis.Result, opts PlanOptions) (Plan, error) {
	if result == nil || !result.Complete() {
		return Plan{}, &analysis.ValidationError{Stage: planStage, Reason: "refusing to persist an incomplete analysis"}
	}
	if strings.TrimSpace(opts.OwnerID) == "" {
		return Plan{}, &analysis.ValidationError{Stage: planStage, Field: "owner", Reason: "owner is required"}
	}
	result.Finalize()
	transcriptLength := len(result.Transcript)

	plan := Plan{
		ProblemAreas: make([]PlannedProblemArea, 0, len(result.ProblemAreas)),
		PersonaIDs:   dedupeIDs(opts.PersonaIDs),
	}
	for i, pa := range result.ProblemAreas {
		planned := PlannedProblemArea{
			Row: ProblemAreaRow{
				ProblemID:   pa.ProblemID,
				Title:       pa.Title,
				Description: pa.Description,
				Position:    i,
			},
			Excerpts: make([]ExcerptRow, 0, len(pa.Excerpts)),
		}
		for j, ex := range pa.Excerpts {
			if ex.ChunkNumber < 1 || ex.ChunkNumber > transcriptLength {
				return Plan{}, &analysis.ValidationError{
					Stage:  planStage,
					Field:  fmt.Sprintf("%s.excerpts[%d].chunk_number", pa.ProblemID, j),
					Reason: fmt.Sprintf("%d outside [1, %d]", ex.ChunkNumber, transcriptLength),
				}
			}
			planned.Excerpts = append(planned.Excerpts, ExcerptRow{
				Quote:       ex.Quote,
				Categories:  append([]string(nil), ex.Categories...),
				Insight:     ex.Insight,
				ChunkNumber: ex.ChunkNumber,
				Position:    j,
			})
		}
		plan.ProblemAreas = append(plan.ProblemAreas, planned)
	}

	snapshot := *result
	snapshot.Storage = nil
	encoded, err := json.Marshal(&snapshot)
	if err != nil {
		return Plan{}, fmt.Errorf("encode analysis: %w", err)
	}

	plan.Interview = InterviewRow{
		OwnerID:          strings.TrimSpace(opts.OwnerID),
		Title:            deriveTitle(result, opts),
		ProjectID:        opts.ProjectID,
		Interviewer:      strings.TrimSpace(opts.Interviewer),
		InterviewDate:    strings.TrimSpace(opts.InterviewDate),
		ProblemCount:     len(result.ProblemAreas),
		TranscriptLength: transcriptLength,
		ExcerptCount:     result.Metadata.ExcerptsCount,
		AnalysisJSON:     encoded,
		ContentHash:      opts.ContentHash,
	}
	return plan, nil
}

// deriveTitle prefers the caller's title, then the first sentence of the
// synthesis background, then the first problem title, then a dated fallback.
func deriveTitle(result *analysis.Result, opts PlanOptions) string {
	if title := textutil.CollapseWhitespace(opts.Title); title != "" {
		return textutil.TruncateRunes(title, maxTitleRunes)
	}
	if result.Synthesis != nil {
		if sentence := textutil.FirstSentence(result.Synthesis.Background); sentence != "" {
			return textutil.TruncateRunes(sentence, maxTitleRunes)
		}
	}
	if len(result.ProblemAreas) > 0 {
		if title := textutil.CollapseWhitespace(result.ProblemAreas[0].Title); title != "" {
			return textutil.TruncateRunes(title, maxTitleRunes)
		}
	}
	date := strings.TrimSpace(opts.InterviewDate)
	if date == "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		date = now().Format("2006-01-02")
	}
	return "Interview " + date
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
