package store

import (
	"fmt"

	"fieldnotes/internal/services"
)

// PersonaConflictError reports that the owner already has a persona whose
// name folds to the same key.
type PersonaConflictError struct {
	OwnerID    string
	Name       string
	ExistingID int64
}

func (e *PersonaConflictError) Error() string {
	if e.ExistingID > 0 {
		return fmt.Sprintf("persona %q already exists for owner %s (id %d)", e.Name, e.OwnerID, e.ExistingID)
	}
	return fmt.Sprintf("persona %q already exists for owner %s", e.Name, e.OwnerID)
}

func (e *PersonaConflictError) Unwrap() error { return services.ErrPersonaConflict }
