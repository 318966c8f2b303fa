package transcript

import (
	"fmt"

	"fieldnotes/internal/services"
)

// FormatError reports a transcript that could not be parsed. It matches
// services.ErrFileFormat and is never retried.
type FormatError struct {
	Format Format
	Reason string
	Line   int
	Err    error
}

func (e *FormatError) Error() string {
	msg := "transcript"
	if e.Format != "" && e.Format != FormatAuto {
		msg += " (" + string(e.Format) + ")"
	}
	msg += ": " + e.Reason
	if e.Line > 0 {
		msg += fmt.Sprintf(" at line %d", e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{services.ErrFileFormat}
	}
	return []error{services.ErrFileFormat, e.Err}
}

func formatError(format Format, reason string) error {
	return &FormatError{Format: format, Reason: reason}
}
