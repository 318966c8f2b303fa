package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"fieldnotes/internal/services"
	"fieldnotes/internal/textutil"
)

// MaxPersonaNameRunes bounds persona names.
const MaxPersonaNameRunes = 60

// Palette holds the colors assigned to personas created without one.
var Palette = []string{
	"#4E79A7", "#F28E2B", "#E15759", "#76B7B2",
	"#59A14F", "#EDC948", "#B07AA1", "#FF9DA7",
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Persona is a named archetype owned by one user.
type Persona struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// PersonaKey returns the case-folded comparison key for a persona name.
func PersonaKey(name string) string {
	return cases.Fold().String(textutil.CollapseWhitespace(name))
}

// PaletteColor picks a palette entry deterministically from the name key.
func PaletteColor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(PersonaKey(name)))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// CreatePersona inserts a persona. An empty color is assigned from the
// palette. A name that folds to an existing persona's key returns
// *PersonaConflictError.
func (s *Store) CreatePersona(ctx context.Context, ownerID, name, color string) (*Persona, error) {
	ctx = ensureContext(ctx)
	ownerID = strings.TrimSpace(ownerID)
	name = textutil.CollapseWhitespace(name)
	color = strings.TrimSpace(color)
	switch {
	case ownerID == "":
		return nil, services.Wrap(services.ErrValidation, "personas", "create", "owner is required", nil)
	case name == "":
		return nil, services.Wrap(services.ErrValidation, "personas", "create", "name is required", nil)
	case utf8.RuneCountInString(name) > MaxPersonaNameRunes:
		return nil, services.Wrap(services.ErrValidation, "personas", "create",
			fmt.Sprintf("name exceeds %d characters", MaxPersonaNameRunes), nil)
	}
	if color == "" {
		color = PaletteColor(name)
	} else if !colorPattern.MatchString(color) {
		return nil, services.Wrap(services.ErrValidation, "personas", "create",
			fmt.Sprintf("color %q is not a #RRGGBB value", color), nil)
	}

	key := PersonaKey(name)
	createdAt := s.timestamp()
	id, err := insertWithRetry(ctx, s.db,
		"INSERT INTO personas (owner_id, name, name_key, color, created_at) VALUES (?, ?, ?, ?, ?)",
		ownerID, name, key, color, createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			conflict := &PersonaConflictError{OwnerID: ownerID, Name: name}
			if existing, lookupErr := s.personaByKey(ctx, ownerID, key); lookupErr == nil {
				conflict.ExistingID = existing.ID
			}
			return nil, conflict
		}
		return nil, fmt.Errorf("insert persona: %w", err)
	}
	created, _ := parseTimeString(createdAt)
	return &Persona{ID: id, OwnerID: ownerID, Name: name, Color: color, CreatedAt: created}, nil
}

// ListPersonas returns the owner's personas ordered by name key.
func (s *Store) ListPersonas(ctx context.Context, ownerID string) ([]Persona, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner_id, name, color, created_at FROM personas WHERE owner_id = ? ORDER BY name_key, id",
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	personas := []Persona{}
	for rows.Next() {
		persona, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		personas = append(personas, *persona)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}
	return personas, nil
}

// LinkPersonas attaches personas to a stored interview. Every persona must
// belong to the interview's owner.
func (s *Store) LinkPersonas(ctx context.Context, interviewID int64, personaIDs []int64) error {
	ctx = ensureContext(ctx)
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := tx.LinkPersonas(ctx, interviewID, personaIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// InterviewPersonas returns the personas linked to an interview.
func (s *Store) InterviewPersonas(ctx context.Context, interviewID int64) ([]Persona, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT p.id, p.owner_id, p.name, p.color, p.created_at
		FROM personas p JOIN interview_personas ip ON ip.persona_id = p.id
		WHERE ip.interview_id = ? ORDER BY p.name_key, p.id`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("list interview personas: %w", err)
	}
	defer rows.Close()

	personas := []Persona{}
	for rows.Next() {
		persona, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		personas = append(personas, *persona)
	}
	return personas, rows.Err()
}

func (s *Store) personaByKey(ctx context.Context, ownerID, key string) (*Persona, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, name, color, created_at FROM personas WHERE owner_id = ? AND name_key = ?",
		ownerID, key,
	)
	persona, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "personas", "lookup", "persona not found", nil)
	}
	return persona, err
}

func scanPersona(scanner interface{ Scan(dest ...any) error }) (*Persona, error) {
	var (
		persona    Persona
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&persona.ID, &persona.OwnerID, &persona.Name, &persona.Color, &createdRaw); err != nil {
		return nil, err
	}
	persona.CreatedAt = parseTime(createdRaw)
	return &persona, nil
}
