package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFileFormat      = errors.New("file format error")
	ErrLLMCall         = errors.New("llm call error")
	ErrOutputParse     = errors.New("output parse error")
	ErrValidation      = errors.New("validation error")
	ErrAnalysisFailed  = errors.New("analysis failed")
	ErrStorage         = errors.New("storage error")
	ErrPersonaConflict = errors.New("persona conflict")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
)

// ErrorKind is the coarse classification surfaced to API clients and the CLI.
type ErrorKind string

const (
	KindFileFormat      ErrorKind = "file_format"
	KindAnalysis        ErrorKind = "analysis_unavailable"
	KindStorage         ErrorKind = "storage"
	KindPersonaConflict ErrorKind = "persona_conflict"
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindCanceled        ErrorKind = "canceled"
	KindInternal        ErrorKind = "internal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind classifies err against the marker taxonomy. Storage is checked before
// analysis so a persistence failure after a successful analysis is never
// reported as an analysis outage.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFileFormat):
		return KindFileFormat
	case errors.Is(err, ErrPersonaConflict):
		return KindPersonaConflict
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrAnalysisFailed), errors.Is(err, ErrLLMCall), errors.Is(err, ErrOutputParse),
		errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindAnalysis
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return KindValidation
	default:
		return KindInternal
	}
}

// UserMessage returns the remediation-oriented message shown to end users.
func UserMessage(err error) string {
	switch Kind(err) {
	case KindFileFormat:
		return "The file could not be understood. Upload a WebVTT file or a plain transcript with \"Speaker: text\" lines."
	case KindAnalysis:
		return "The analysis service is unavailable right now. Please retry in a few minutes."
	case KindStorage:
		return "The analysis finished but the results could not be saved. Retry saving or contact support."
	case KindPersonaConflict:
		return "A persona with that name already exists."
	case KindCanceled:
		return "The analysis was cancelled."
	case KindNotFound:
		return "The requested record was not found."
	case KindValidation:
		return "The request was invalid."
	case "":
		return ""
	default:
		return "An unexpected error occurred. Contact support if it persists."
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
