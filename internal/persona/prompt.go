package persona

import (
	"encoding/json"
	"fmt"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/store"
)

// MatchPrompt is the system prompt for persona suggestion.
const MatchPrompt = `You are a user researcher tagging an interview with participant personas.

You receive the interview synthesis, its problem areas, and the researcher's existing personas with their ids.

Pick the existing personas that describe the participant. Propose new persona names only when no existing persona fits; a new name is a short role or archetype such as "Clinic manager", never a person's name.

You must respond ONLY with JSON: {"existing_persona_ids": [1, 2], "suggested_new_personas": ["..."]}`

type matchInput struct {
	Background   string         `json:"background"`
	Summaries    []string       `json:"problem_summaries,omitempty"`
	ProblemAreas []string       `json:"problem_areas"`
	Personas     []personaInput `json:"existing_personas"`
}

type personaInput struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func userPrompt(result *analysis.Result, existing []store.Persona) (string, error) {
	input := matchInput{
		ProblemAreas: make([]string, 0, len(result.ProblemAreas)),
		Personas:     make([]personaInput, 0, len(existing)),
	}
	if result.Synthesis != nil {
		input.Background = result.Synthesis.Background
		input.Summaries = result.Synthesis.ProblemAreas
	}
	for _, pa := range result.ProblemAreas {
		input.ProblemAreas = append(input.ProblemAreas, pa.Title)
	}
	for _, p := range existing {
		input.Personas = append(input.Personas, personaInput{ID: p.ID, Name: p.Name})
	}
	encoded, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode persona input: %w", err)
	}
	return "Interview:\n" + string(encoded), nil
}

func correctivePrompt(user string, prev error) string {
	return user + "\n\nYour previous response was rejected: " + prev.Error() +
		"\nRespond again with JSON only, matching the required shape exactly."
}
