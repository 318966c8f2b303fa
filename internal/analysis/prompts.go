package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProblemExtractionPrompt is the system prompt for EXTRACT_PROBLEMS.
const ProblemExtractionPrompt = `You are a user researcher reviewing an interview transcript.

Each transcript line starts with a citation label such as [12] or [12-14] followed by the speaker.

Identify the distinct problem areas the participant describes: recurring pain points, unmet needs, or goals they struggle to reach. Merge duplicates. Prefer 2 to 6 problem areas; never invent problems the participant did not describe.

You must respond ONLY with JSON: {"problem_areas": [{"title": "short noun phrase", "description": "one or two sentences in neutral language"}]}`

// ExcerptExtractionPrompt is the system prompt for EXTRACT_EXCERPTS.
const ExcerptExtractionPrompt = `You are a user researcher collecting evidence for one problem area from an interview transcript.

Each transcript line starts with a citation label such as [12] or [12-14]. A label [12-14] covers chunks 12, 13 and 14.

Select verbatim quotes from the participant that support the problem area. For each quote:
- chunk_number is the single integer chunk the quote comes from (use a number inside the label, never a number that does not appear)
- categories is one or more of: %s
- insight is one sentence on what the quote reveals

Return an empty list when nothing in the transcript supports the problem area.

You must respond ONLY with JSON: {"excerpts": [{"quote": "...", "categories": ["..."], "insight": "...", "chunk_number": 12}]}`

// SynthesisPrompt is the system prompt for SYNTHESIZE.
const SynthesisPrompt = `You are a user researcher writing the synthesis of one interview.

You receive the problem areas and supporting excerpts extracted from the interview.

Write:
- background: two to four sentences on who the participant is and their context
- problem_areas: one summary sentence per problem area, in the given order
- next_steps: concrete follow-ups for the product team

You must respond ONLY with JSON: {"background": "...", "problem_areas": ["..."], "next_steps": ["..."]}`

const truncatedMarker = "[transcript truncated: later chunks omitted to fit the request size]"

func excerptSystemPrompt() string {
	return fmt.Sprintf(ExcerptExtractionPrompt, strings.Join(Categories, ", "))
}

func problemsUserPrompt(rendered string) string {
	return "Transcript:\n" + rendered
}

func excerptsUserPrompt(problem ProblemArea, rendered string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem area: %s\n", problem.Title)
	fmt.Fprintf(&b, "Description: %s\n\n", problem.Description)
	b.WriteString("Transcript:\n")
	b.WriteString(rendered)
	return b.String()
}

type synthesisInput struct {
	ProblemAreas []synthesisProblem `json:"problem_areas"`
}

type synthesisProblem struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Quotes      []string `json:"quotes"`
}

func synthesisUserPrompt(problems []ProblemArea) (string, error) {
	input := synthesisInput{ProblemAreas: make([]synthesisProblem, 0, len(problems))}
	for _, pa := range problems {
		quotes := make([]string, 0, len(pa.Excerpts))
		for _, ex := range pa.Excerpts {
			quotes = append(quotes, fmt.Sprintf("[%d] %s", ex.ChunkNumber, ex.Quote))
		}
		input.ProblemAreas = append(input.ProblemAreas, synthesisProblem{
			Title:       pa.Title,
			Description: pa.Description,
			Quotes:      quotes,
		})
	}
	encoded, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode synthesis input: %w", err)
	}
	return "Analysis:\n" + string(encoded), nil
}

// correctivePrompt appends the rejection reason of the previous attempt.
func correctivePrompt(user string, prev error) string {
	return user + "\n\nYour previous response was rejected: " + prev.Error() +
		"\nRespond again with JSON only, matching the required shape exactly."
}
