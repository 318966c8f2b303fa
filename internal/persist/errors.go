package persist

import (
	"fmt"

	"fieldnotes/internal/services"
)

// StorageError reports a failed write after a successful analysis. The
// caller can retry persistence alone without re-running the model.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{services.ErrStorage, e.Err} }
