package persist

import (
	"context"
	"fmt"
	"log/slog"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/logging"
	"fieldnotes/internal/services"
)

// Mapper writes plans through a Storage collaborator.
type Mapper struct {
	storage Storage
	logger  *slog.Logger
}

// NewMapper constructs a mapper. A nil logger discards output.
func NewMapper(storage Storage, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Mapper{storage: storage, logger: logging.NewComponentLogger(logger, "persist")}
}

// Persist writes the plan in one transaction and returns the new interview's
// reference. Any failure rolls back and returns *StorageError.
func (m *Mapper) Persist(ctx context.Context, plan Plan) (analysis.StorageRef, error) {
	if err := ctx.Err(); err != nil {
		return analysis.StorageRef{}, fmt.Errorf("persist: %w", err)
	}
	logger := logging.WithContext(ctx, m.logger)

	tx, err := m.storage.Begin(ctx)
	if err != nil {
		return analysis.StorageRef{}, &StorageError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.WarnWithContext(logger, "rollback failed", "storage_rollback_failed",
				logging.Error(rbErr),
				logging.String(logging.FieldImpact, "transaction may be left open until the connection closes"),
				logging.String(logging.FieldErrorHint, "check database health"),
			)
		}
	}()

	stored, err := tx.CreateInterview(ctx, plan.Interview)
	if err != nil {
		return analysis.StorageRef{}, &StorageError{Op: "create interview", Err: err}
	}
	ctx = services.WithInterviewID(ctx, stored.ID)
	for _, pa := range plan.ProblemAreas {
		problemAreaID, err := tx.CreateProblemArea(ctx, stored.ID, pa.Row)
		if err != nil {
			return analysis.StorageRef{}, &StorageError{Op: "create problem area " + pa.Row.ProblemID, Err: err}
		}
		for _, ex := range pa.Excerpts {
			if _, err := tx.CreateExcerpt(ctx, problemAreaID, ex); err != nil {
				return analysis.StorageRef{}, &StorageError{Op: "create excerpt", Err: err}
			}
		}
	}
	if len(plan.PersonaIDs) > 0 {
		if err := tx.LinkPersonas(ctx, stored.ID, plan.PersonaIDs); err != nil {
			return analysis.StorageRef{}, &StorageError{Op: "link personas", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return analysis.StorageRef{}, &StorageError{Op: "commit", Err: err}
	}
	committed = true

	_, problems, excerpts := plan.RowCount()
	logging.WithContext(ctx, m.logger).Info("interview persisted",
		logging.String(logging.FieldEventType, "interview_persisted"),
		logging.Int("problem_areas", problems),
		logging.Int("excerpts", excerpts),
		logging.Int("personas", len(plan.PersonaIDs)),
	)
	return analysis.StorageRef{ID: stored.ID, CreatedAt: stored.CreatedAt}, nil
}
