package analysis

import (
	"fmt"

	"fieldnotes/internal/services"
)

// OutputParseError reports model output that is not JSON or not the expected
// shape. The orchestrator retries it with a corrective re-prompt.
type OutputParseError struct {
	Stage State
	Err   error
}

func (e *OutputParseError) Error() string {
	return fmt.Sprintf("%s: unexpected model output: %v", e.Stage, e.Err)
}

func (e *OutputParseError) Unwrap() []error { return []error{services.ErrOutputParse, e.Err} }

// ValidationError reports parsed output that violates the stage schema.
type ValidationError struct {
	Stage  State
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: invalid output: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: invalid output: %s: %s", e.Stage, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return services.ErrValidation }

// AnalysisFailedError is returned when a stage exhausts its attempts or the
// run is cancelled. Partial carries whatever earlier stages produced.
type AnalysisFailedError struct {
	Stage   State
	Partial *Result
	Err     error
}

func (e *AnalysisFailedError) Error() string {
	return fmt.Sprintf("analysis failed at %s: %v", e.Stage, e.Err)
}

func (e *AnalysisFailedError) Unwrap() []error {
	return []error{services.ErrAnalysisFailed, e.Err}
}
