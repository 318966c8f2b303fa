package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldnotes/internal/services"
)

// Interview is one stored analysis run.
type Interview struct {
	ID               int64           `json:"id"`
	OwnerID          string          `json:"owner_id"`
	ProjectID        *int64          `json:"project_id,omitempty"`
	Title            string          `json:"title"`
	Interviewer      string          `json:"interviewer,omitempty"`
	InterviewDate    string          `json:"interview_date,omitempty"`
	ProblemCount     int             `json:"problem_count"`
	TranscriptLength int             `json:"transcript_length"`
	ExcerptCount     int             `json:"excerpt_count"`
	AnalysisJSON     json.RawMessage `json:"analysis_data,omitempty"`
	ContentHash      string          `json:"content_hash,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ProblemAreaRecord is a stored problem area with its excerpts.
type ProblemAreaRecord struct {
	ID          int64           `json:"id"`
	ProblemID   string          `json:"problem_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Position    int             `json:"position"`
	Excerpts    []ExcerptRecord `json:"excerpts"`
}

// ExcerptRecord is a stored excerpt.
type ExcerptRecord struct {
	ID          int64    `json:"id"`
	Quote       string   `json:"quote"`
	Categories  []string `json:"categories"`
	Insight     string   `json:"insight,omitempty"`
	ChunkNumber int      `json:"chunk_number"`
	Position    int      `json:"position"`
}

// InterviewTree is an interview with every row that hangs off it.
type InterviewTree struct {
	Interview    Interview           `json:"interview"`
	ProblemAreas []ProblemAreaRecord `json:"problem_areas"`
	Personas     []Persona           `json:"personas"`
}

const interviewColumns = "id, owner_id, project_id, title, interviewer, interview_date, problem_count, transcript_length, excerpt_count, analysis_data, content_hash, created_at"

// GetInterview returns one interview including its raw analysis JSON.
func (s *Store) GetInterview(ctx context.Context, id int64) (*Interview, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+interviewColumns+" FROM interviews WHERE id = ?", id)
	interview, err := scanInterview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get interview",
			fmt.Sprintf("interview %d does not exist", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get interview: %w", err)
	}
	return interview, nil
}

// ListInterviews returns the owner's most recent interviews without their
// analysis payload. A non-positive limit defaults to 50.
func (s *Store) ListInterviews(ctx context.Context, ownerID string, limit int) ([]Interview, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+interviewColumns+" FROM interviews WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	defer rows.Close()

	interviews := []Interview{}
	for rows.Next() {
		interview, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interview: %w", err)
		}
		interview.AnalysisJSON = nil
		interviews = append(interviews, *interview)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interviews: %w", err)
	}
	return interviews, nil
}

// RowCounts reports the number of rows per table.
type RowCounts struct {
	Interviews   int
	ProblemAreas int
	Excerpts     int
	Links        int
}

// CountRows returns row counts across the interview tables.
func (s *Store) CountRows(ctx context.Context) (RowCounts, error) {
	ctx = ensureContext(ctx)
	var counts RowCounts
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(1) FROM interviews),
		(SELECT COUNT(1) FROM problem_areas),
		(SELECT COUNT(1) FROM excerpts),
		(SELECT COUNT(1) FROM interview_personas)`,
	).Scan(&counts.Interviews, &counts.ProblemAreas, &counts.Excerpts, &counts.Links)
	if err != nil {
		return RowCounts{}, fmt.Errorf("count rows: %w", err)
	}
	return counts, nil
}

// CountInterviews returns how many interviews the owner has stored.
func (s *Store) CountInterviews(ctx context.Context, ownerID string) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM interviews WHERE owner_id = ?", ownerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count interviews: %w", err)
	}
	return count, nil
}

// InterviewTree loads an interview with its problem areas, excerpts, and
// linked personas in stored order.
func (s *Store) InterviewTree(ctx context.Context, id int64) (*InterviewTree, error) {
	ctx = ensureContext(ctx)
	interview, err := s.GetInterview(ctx, id)
	if err != nil {
		return nil, err
	}
	tree := &InterviewTree{Interview: *interview, ProblemAreas: []ProblemAreaRecord{}}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, problem_id, title, description, position FROM problem_areas WHERE interview_id = ? ORDER BY position, id",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list problem areas: %w", err)
	}
	index := make(map[int64]int)
	for rows.Next() {
		var pa ProblemAreaRecord
		if err := rows.Scan(&pa.ID, &pa.ProblemID, &pa.Title, &pa.Description, &pa.Position); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan problem area: %w", err)
		}
		pa.Excerpts = []ExcerptRecord{}
		index[pa.ID] = len(tree.ProblemAreas)
		tree.ProblemAreas = append(tree.ProblemAreas, pa)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate problem areas: %w", err)
	}
	rows.Close()

	excerptRows, err := s.db.QueryContext(ctx, `SELECT e.id, e.problem_area_id, e.quote, e.categories, e.insight, e.chunk_number, e.position
		FROM excerpts e JOIN problem_areas pa ON pa.id = e.problem_area_id
		WHERE pa.interview_id = ? ORDER BY pa.position, e.position, e.id`, id)
	if err != nil {
		return nil, fmt.Errorf("list excerpts: %w", err)
	}
	defer excerptRows.Close()
	for excerptRows.Next() {
		var (
			ex            ExcerptRecord
			problemAreaID int64
			categories    string
			insight       sql.NullString
		)
		if err := excerptRows.Scan(&ex.ID, &problemAreaID, &ex.Quote, &categories, &insight, &ex.ChunkNumber, &ex.Position); err != nil {
			return nil, fmt.Errorf("scan excerpt: %w", err)
		}
		if err := json.Unmarshal([]byte(categories), &ex.Categories); err != nil {
			return nil, fmt.Errorf("decode excerpt categories: %w", err)
		}
		ex.Insight = insight.String
		if i, ok := index[problemAreaID]; ok {
			tree.ProblemAreas[i].Excerpts = append(tree.ProblemAreas[i].Excerpts, ex)
		}
	}
	if err := excerptRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate excerpts: %w", err)
	}

	personas, err := s.InterviewPersonas(ctx, id)
	if err != nil {
		return nil, err
	}
	tree.Personas = personas
	return tree, nil
}

func scanInterview(scanner interface{ Scan(dest ...any) error }) (*Interview, error) {
	var (
		interview     Interview
		projectID     sql.NullInt64
		interviewer   sql.NullString
		interviewDate sql.NullString
		analysisData  sql.NullString
		contentHash   sql.NullString
		createdRaw    sql.NullString
	)
	if err := scanner.Scan(
		&interview.ID,
		&interview.OwnerID,
		&projectID,
		&interview.Title,
		&interviewer,
		&interviewDate,
		&interview.ProblemCount,
		&interview.TranscriptLength,
		&interview.ExcerptCount,
		&analysisData,
		&contentHash,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	if projectID.Valid {
		id := projectID.Int64
		interview.ProjectID = &id
	}
	interview.Interviewer = interviewer.String
	interview.InterviewDate = interviewDate.String
	if analysisData.Valid && analysisData.String != "" {
		interview.AnalysisJSON = json.RawMessage(analysisData.String)
	}
	interview.ContentHash = contentHash.String
	interview.CreatedAt = parseTime(createdRaw)
	return &interview, nil
}
