package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldnotes/internal/services"
)

// Project groups interviews for one owner.
type Project struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, ownerID, name string) (*Project, error) {
	ctx = ensureContext(ctx)
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return nil, services.Wrap(services.ErrValidation, "projects", "create", "owner and name are required", nil)
	}
	createdAt := s.timestamp()
	id, err := insertWithRetry(ctx, s.db,
		"INSERT INTO projects (owner_id, name, created_at) VALUES (?, ?, ?)",
		ownerID, name, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	created, _ := parseTimeString(createdAt)
	return &Project{ID: id, OwnerID: ownerID, Name: name, CreatedAt: created}, nil
}

// GetProject returns one project.
func (s *Store) GetProject(ctx context.Context, id int64) (*Project, error) {
	ctx = ensureContext(ctx)
	var (
		project    Project
		createdRaw sql.NullString
	)
	err := s.db.QueryRowContext(ctx, "SELECT id, owner_id, name, created_at FROM projects WHERE id = ?", id).
		Scan(&project.ID, &project.OwnerID, &project.Name, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get project",
			fmt.Sprintf("project %d does not exist", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	project.CreatedAt = parseTime(createdRaw)
	return &project, nil
}
