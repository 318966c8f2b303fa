package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fieldnotes/internal/persist"
	"fieldnotes/internal/services"
)

// Begin opens a write transaction for one interview tree.
func (s *Store) Begin(ctx context.Context) (persist.Tx, error) {
	ctx = ensureContext(ctx)
	var tx *sql.Tx
	err := retryOnBusy(ctx, func() error {
		var beginErr error
		tx, beginErr = s.db.BeginTx(ctx, nil)
		return beginErr
	})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &writeTx{tx: tx, now: s.timestamp}, nil
}

type writeTx struct {
	tx  *sql.Tx
	now func() string
}

func (w *writeTx) CreateInterview(ctx context.Context, row persist.InterviewRow) (persist.StoredInterview, error) {
	if row.ProjectID != nil {
		if err := checkProjectOwner(ctx, w.tx, row.OwnerID, *row.ProjectID); err != nil {
			return persist.StoredInterview{}, err
		}
	}
	createdAt := w.now()
	id, err := insertWithRetry(ctx, w.tx, `INSERT INTO interviews (
		owner_id, project_id, title, interviewer, interview_date,
		problem_count, transcript_length, excerpt_count, analysis_data, content_hash, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.OwnerID,
		nullableInt64(row.ProjectID),
		row.Title,
		nullableString(row.Interviewer),
		nullableString(row.InterviewDate),
		row.ProblemCount,
		row.TranscriptLength,
		row.ExcerptCount,
		string(row.AnalysisJSON),
		nullableString(row.ContentHash),
		createdAt,
	)
	if err != nil {
		return persist.StoredInterview{}, fmt.Errorf("insert interview: %w", err)
	}
	created, _ := parseTimeString(createdAt)
	return persist.StoredInterview{ID: id, CreatedAt: created}, nil
}

func (w *writeTx) CreateProblemArea(ctx context.Context, interviewID int64, row persist.ProblemAreaRow) (int64, error) {
	id, err := insertWithRetry(ctx, w.tx,
		"INSERT INTO problem_areas (interview_id, problem_id, title, description, position) VALUES (?, ?, ?, ?, ?)",
		interviewID, row.ProblemID, row.Title, row.Description, row.Position,
	)
	if err != nil {
		return 0, fmt.Errorf("insert problem area: %w", err)
	}
	return id, nil
}

func (w *writeTx) CreateExcerpt(ctx context.Context, problemAreaID int64, row persist.ExcerptRow) (int64, error) {
	categories := row.Categories
	if categories == nil {
		categories = []string{}
	}
	encoded, err := json.Marshal(categories)
	if err != nil {
		return 0, fmt.Errorf("encode categories: %w", err)
	}
	id, err := insertWithRetry(ctx, w.tx,
		"INSERT INTO excerpts (problem_area_id, quote, categories, insight, chunk_number, position) VALUES (?, ?, ?, ?, ?, ?)",
		problemAreaID, row.Quote, string(encoded), nullableString(row.Insight), row.ChunkNumber, row.Position,
	)
	if err != nil {
		return 0, fmt.Errorf("insert excerpt: %w", err)
	}
	return id, nil
}

func (w *writeTx) LinkPersonas(ctx context.Context, interviewID int64, personaIDs []int64) error {
	return linkPersonas(ctx, w.tx, interviewID, personaIDs)
}

func (w *writeTx) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (w *writeTx) Rollback() error {
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

type queryExecer interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// linkPersonas attaches personas owned by the interview's owner. Existing
// links are left untouched.
func linkPersonas(ctx context.Context, db queryExecer, interviewID int64, personaIDs []int64) error {
	if len(personaIDs) == 0 {
		return nil
	}
	ids := uniqueIDs(personaIDs)

	var owner string
	err := db.QueryRowContext(ctx, "SELECT owner_id FROM interviews WHERE id = ?", interviewID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "persist", "link personas",
			fmt.Sprintf("interview %d does not exist", interviewID), nil)
	}
	if err != nil {
		return fmt.Errorf("load interview owner: %w", err)
	}

	if err := checkPersonaOwners(ctx, db, owner, ids); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := execWithRetry(ctx, db,
			"INSERT OR IGNORE INTO interview_personas (interview_id, persona_id) VALUES (?, ?)",
			interviewID, id,
		); err != nil {
			return fmt.Errorf("link persona %d: %w", id, err)
		}
	}
	return nil
}

// CheckAssociations verifies that the project and personas a request refers
// to exist and belong to ownerID. Missing rows report ErrNotFound; rows owned
// by someone else report ErrValidation.
func (s *Store) CheckAssociations(ctx context.Context, ownerID string, projectID *int64, personaIDs []int64) error {
	ctx = ensureContext(ctx)
	if projectID != nil {
		if err := checkProjectOwner(ctx, s.db, ownerID, *projectID); err != nil {
			return err
		}
	}
	if len(personaIDs) == 0 {
		return nil
	}
	return checkPersonaOwners(ctx, s.db, ownerID, uniqueIDs(personaIDs))
}

func checkProjectOwner(ctx context.Context, db queryExecer, ownerID string, projectID int64) error {
	var owner string
	err := db.QueryRowContext(ctx, "SELECT owner_id FROM projects WHERE id = ?", projectID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "persist", "check project",
			fmt.Sprintf("project %d does not exist", projectID), nil)
	}
	if err != nil {
		return fmt.Errorf("load project owner: %w", err)
	}
	if owner != ownerID {
		return services.Wrap(services.ErrValidation, "persist", "check project",
			fmt.Sprintf("project %d does not belong to owner %s", projectID, ownerID), nil)
	}
	return nil
}

// checkPersonaOwners expects ids to be deduplicated.
func checkPersonaOwners(ctx context.Context, db queryExecer, ownerID string, ids []int64) error {
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(
		"SELECT COUNT(1), COALESCE(SUM(CASE WHEN owner_id = ? THEN 1 ELSE 0 END), 0) FROM personas WHERE id IN (%s)",
		makePlaceholders(len(ids)))
	var existing, owned int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&existing, &owned); err != nil {
		return fmt.Errorf("check personas: %w", err)
	}
	if existing != len(ids) {
		return services.Wrap(services.ErrNotFound, "persist", "check personas",
			fmt.Sprintf("%d of %d personas do not exist", len(ids)-existing, len(ids)), nil)
	}
	if owned != len(ids) {
		return services.Wrap(services.ErrValidation, "persist", "check personas",
			fmt.Sprintf("%d of %d personas do not belong to owner %s", len(ids)-owned, len(ids), ownerID), nil)
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
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
