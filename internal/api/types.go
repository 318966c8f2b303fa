package api

import (
	"fieldnotes/internal/analysis"
	"fieldnotes/internal/persona"
	"fieldnotes/internal/store"
)

// AnalyzeResponse is the analysis result plus request bookkeeping. Result
// fields are inlined so the body is the serialized analysis.
type AnalyzeResponse struct {
	*analysis.Result
	RequestID          string              `json:"request_id"`
	Outcome            analysis.Outcome    `json:"outcome"`
	PersonaSuggestions *persona.Suggestion `json:"persona_suggestions,omitempty"`
	Truncated          bool                `json:"truncated,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Message   string           `json:"message"`
	Detail    string           `json:"detail,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
	Partial   *analysis.Result `json:"partial,omitempty"`
}

// CreatePersonaRequest is the body of POST /api/personas.
type CreatePersonaRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// PersonaListResponse is the body of GET /api/personas.
type PersonaListResponse struct {
	Personas []store.Persona `json:"personas"`
}

// LinkPersonasRequest is the body of POST /api/interviews/{id}/personas.
type LinkPersonasRequest struct {
	PersonaIDs []int64 `json:"persona_ids"`
}

// LinkPersonasResponse reports the interview's personas after linking.
type LinkPersonasResponse struct {
	InterviewID int64           `json:"interview_id"`
	Personas    []store.Persona `json:"personas"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Model    string `json:"model,omitempty"`
}
