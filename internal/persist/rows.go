package persist

import (
	"context"
	"time"
)

// InterviewRow is the aggregate root written once per successful run.
type InterviewRow struct {
	OwnerID          string
	Title            string
	ProjectID        *int64
	Interviewer      string
	InterviewDate    string
	ProblemCount     int
	TranscriptLength int
	ExcerptCount     int
	AnalysisJSON     []byte
	ContentHash      string
}

// ProblemAreaRow belongs to one interview. Position keeps extraction order.
type ProblemAreaRow struct {
	ProblemID   string
	Title       string
	Description string
	Position    int
}

// ExcerptRow belongs to one problem area and keeps the original chunk number.
type ExcerptRow struct {
	Quote       string
	Categories  []string
	Insight     string
	ChunkNumber int
	Position    int
}

// StoredInterview is what the storage layer reports after inserting the root row.
type StoredInterview struct {
	ID        int64
	CreatedAt time.Time
}

// Storage opens write transactions.
type Storage interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one all-or-nothing write. Rollback after Commit is a no-op.
type Tx interface {
	CreateInterview(ctx context.Context, row InterviewRow) (StoredInterview, error)
	CreateProblemArea(ctx context.Context, interviewID int64, row ProblemAreaRow) (int64, error)
	CreateExcerpt(ctx context.Context, problemAreaID int64, row ExcerptRow) (int64, error)
	LinkPersonas(ctx context.Context, interviewID int64, personaIDs []int64) error
	Commit() error
	Rollback() error
}
