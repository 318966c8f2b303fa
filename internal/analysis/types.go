package analysis

import (
	"strings"
	"time"

	"fieldnotes/internal/transcript"
)

// Category vocabulary accepted on excerpts.
const (
	CategoryPainPoint   = "pain_point"
	CategoryWorkaround  = "workaround"
	CategoryNeed        = "need"
	CategoryGoal        = "goal"
	CategoryFrustration = "frustration"
	CategoryOpportunity = "opportunity"
	CategoryBehavior    = "behavior"
	CategoryContext     = "context"
	CategoryQuote       = "quote"
)

// Categories lists the vocabulary in prompt order.
var Categories = []string{
	CategoryPainPoint,
	CategoryWorkaround,
	CategoryNeed,
	CategoryGoal,
	CategoryFrustration,
	CategoryOpportunity,
	CategoryBehavior,
	CategoryContext,
	CategoryQuote,
}

var categorySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(Categories))
	for _, c := range Categories {
		set[c] = struct{}{}
	}
	return set
}()

// NormalizeCategory folds case, spaces and hyphens and reports whether the
// result is in the vocabulary.
func NormalizeCategory(value string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	_, ok := categorySet[key]
	return key, ok
}

// Excerpt is a supporting quote cited by original chunk number.
type Excerpt struct {
	Quote       string   `json:"quote"`
	Categories  []string `json:"categories"`
	Insight     string   `json:"insight"`
	ChunkNumber int      `json:"chunk_number"`
}

// ProblemArea is one extracted theme. ProblemID is local to a run.
type ProblemArea struct {
	ProblemID   string    `json:"problem_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Excerpts    []Excerpt `json:"excerpts"`
}

// Synthesis is the narrative summary over the whole analysis.
type Synthesis struct {
	Background   string   `json:"background"`
	ProblemAreas []string `json:"problem_areas"`
	NextSteps    []string `json:"next_steps"`
}

// Metadata is always derived from the result, never read from the model.
type Metadata struct {
	TranscriptLength  int `json:"transcript_length"`
	ProblemAreasCount int `json:"problem_areas_count"`
	ExcerptsCount     int `json:"excerpts_count"`
}

// StorageRef is attached once the result has been persisted.
type StorageRef struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is the serialized output of one pipeline run.
type Result struct {
	ProblemAreas []ProblemArea      `json:"problem_areas"`
	Synthesis    *Synthesis         `json:"synthesis"`
	Metadata     Metadata           `json:"metadata"`
	Transcript   []transcript.Chunk `json:"transcript"`
	Storage      *StorageRef        `json:"storage,omitempty"`
}

// ExcerptCount sums excerpts across problem areas.
func (r *Result) ExcerptCount() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, pa := range r.ProblemAreas {
		total += len(pa.Excerpts)
	}
	return total
}

// Finalize recomputes Metadata and replaces nil slices so the result
// serializes with empty arrays instead of nulls.
func (r *Result) Finalize() {
	if r == nil {
		return
	}
	if r.ProblemAreas == nil {
		r.ProblemAreas = []ProblemArea{}
	}
	for i := range r.ProblemAreas {
		if r.ProblemAreas[i].Excerpts == nil {
			r.ProblemAreas[i].Excerpts = []Excerpt{}
		}
	}
	if r.Transcript == nil {
		r.Transcript = []transcript.Chunk{}
	}
	if r.Synthesis != nil {
		if r.Synthesis.ProblemAreas == nil {
			r.Synthesis.ProblemAreas = []string{}
		}
		if r.Synthesis.NextSteps == nil {
			r.Synthesis.NextSteps = []string{}
		}
	}
	r.Metadata = Metadata{
		TranscriptLength:  len(r.Transcript),
		ProblemAreasCount: len(r.ProblemAreas),
		ExcerptsCount:     r.ExcerptCount(),
	}
}

// Complete reports whether every stage produced output.
func (r *Result) Complete() bool {
	return r != nil && r.Synthesis != nil && len(r.ProblemAreas) > 0
}
