package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/logging"
	"fieldnotes/internal/retry"
	"fieldnotes/internal/services"
	"fieldnotes/internal/services/llm"
	"fieldnotes/internal/store"
	"fieldnotes/internal/textutil"
)

// StateSuggestPersonas names the persona step in logs and errors.
const StateSuggestPersonas analysis.State = "suggest_personas"

const (
	defaultMaxSuggestions = 5
	defaultCallTimeout    = 2 * time.Minute
)

// Suggestion is the matcher's read-only proposal.
type Suggestion struct {
	ExistingPersonaIDs   []int64  `json:"existing_persona_ids"`
	SuggestedNewPersonas []string `json:"suggested_new_personas"`
	Raw                  string   `json:"-"`
}

// Options tune the matcher.
type Options struct {
	Policy         retry.Policy
	CallTimeout    time.Duration
	MaxSuggestions int
	Logger         *slog.Logger
}

// Matcher proposes persona tags for an analysis.
type Matcher struct {
	llm    analysis.Completer
	opts   Options
	logger *slog.Logger
}

// NewMatcher constructs a matcher. A zero Policy uses retry.Default.
func NewMatcher(llm analysis.Completer, opts Options) *Matcher {
	if opts.Policy.MaxAttempts <= 0 && opts.Policy.BaseDelay == 0 && opts.Policy.MaxDelay == 0 {
		sleeper := opts.Policy.Sleeper
		opts.Policy = retry.Default()
		opts.Policy.Sleeper = sleeper
	}
	opts.Policy.Classify = analysis.ClassifyStageError
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = defaultMaxSuggestions
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Matcher{
		llm:    llm,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "persona"),
	}
}

type matchPayload struct {
	ExistingPersonaIDs   []json.RawMessage `json:"existing_persona_ids"`
	SuggestedNewPersonas []json.RawMessage `json:"suggested_new_personas"`
}

// Suggest asks the model which existing personas fit result and which new
// ones it proposes.
func (m *Matcher) Suggest(ctx context.Context, result *analysis.Result, existing []store.Persona) (Suggestion, error) {
	if result == nil || result.Synthesis == nil {
		return Suggestion{}, &analysis.ValidationError{Stage: StateSuggestPersonas, Field: "synthesis", Reason: "analysis has no synthesis"}
	}
	ctx = services.WithStage(ctx, string(StateSuggestPersonas))
	logger := logging.WithContext(ctx, m.logger)

	user, err := userPrompt(result, existing)
	if err != nil {
		return Suggestion{}, err
	}

	var suggestion Suggestion
	err = m.opts.Policy.Do(ctx, func(ctx context.Context, attempt int, prev error) error {
		prompt := user
		if prev != nil && (errors.Is(prev, services.ErrOutputParse) || errors.Is(prev, services.ErrValidation)) {
			prompt = correctivePrompt(user, prev)
		}
		callCtx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		defer cancel()
		raw, err := m.llm.Complete(callCtx, MatchPrompt, prompt)
		if err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				err = services.Wrap(services.ErrLLMCall, string(StateSuggestPersonas), "llm call",
					fmt.Sprintf("timed out after %s", m.opts.CallTimeout), err)
			}
			logger.Debug("persona attempt failed",
				logging.Int(logging.FieldAttempt, attempt),
				logging.String(logging.FieldEventType, "attempt_failed"),
				logging.Error(err),
			)
			return err
		}
		decoded, err := m.decode(raw, existing)
		if err != nil {
			logger.Debug("persona attempt failed",
				logging.Int(logging.FieldAttempt, attempt),
				logging.String(logging.FieldEventType, "attempt_failed"),
				logging.Error(err),
			)
			return err
		}
		suggestion = decoded
		return nil
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("suggest personas: %w", err)
	}

	logger.Info("persona suggestions ready",
		logging.String(logging.FieldEventType, "persona_suggested"),
		logging.Int("existing_matches", len(suggestion.ExistingPersonaIDs)),
		logging.Int("new_suggestions", len(suggestion.SuggestedNewPersonas)),
	)
	return suggestion, nil
}

func (m *Matcher) decode(raw string, existing []store.Persona) (Suggestion, error) {
	var payload matchPayload
	if err := llm.DecodeStrictJSON(raw, &payload); err != nil {
		return Suggestion{}, &analysis.OutputParseError{Stage: StateSuggestPersonas, Err: err}
	}
	if payload.ExistingPersonaIDs == nil && payload.SuggestedNewPersonas == nil {
		return Suggestion{}, &analysis.ValidationError{
			Stage:  StateSuggestPersonas,
			Reason: "response has neither existing_persona_ids nor suggested_new_personas",
		}
	}
	return Suggestion{
		ExistingPersonaIDs:   matchExisting(payload.ExistingPersonaIDs, existing),
		SuggestedNewPersonas: m.cleanSuggestions(payload.SuggestedNewPersonas, existing),
		Raw:                  raw,
	}, nil
}

// matchExisting resolves model references (ids, numeric strings, or names) to
// persona ids present in existing, returned in existing's order.
func matchExisting(refs []json.RawMessage, existing []store.Persona) []int64 {
	byKey := make(map[string]int64, len(existing))
	known := make(map[int64]struct{}, len(existing))
	for _, p := range existing {
		byKey[store.PersonaKey(p.Name)] = p.ID
		known[p.ID] = struct{}{}
	}

	selected := make(map[int64]struct{}, len(refs))
	for _, ref := range refs {
		id, ok := resolveReference(ref, byKey)
		if !ok {
			continue
		}
		if _, exists := known[id]; exists {
			selected[id] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(selected))
	for _, p := range existing {
		if _, ok := selected[p.ID]; ok {
			ids = append(ids, p.ID)
			delete(selected, p.ID)
		}
	}
	return ids
}

func resolveReference(ref json.RawMessage, byKey map[string]int64) (int64, bool) {
	var number json.Number
	if err := json.Unmarshal(ref, &number); err == nil {
		id, err := strconv.ParseInt(number.String(), 10, 64)
		return id, err == nil
	}
	var text string
	if err := json.Unmarshal(ref, &text); err != nil {
		return 0, false
	}
	text = strings.TrimSpace(text)
	if id, err := strconv.ParseInt(text, 10, 64); err == nil {
		return id, true
	}
	id, ok := byKey[store.PersonaKey(text)]
	return id, ok
}

// cleanSuggestions normalizes proposed names and drops any that fold to an
// existing persona or an earlier suggestion.
func (m *Matcher) cleanSuggestions(values []json.RawMessage, existing []store.Persona) []string {
	taken := make(map[string]struct{}, len(existing)+len(values))
	for _, p := range existing {
		taken[store.PersonaKey(p.Name)] = struct{}{}
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		var name string
		if err := json.Unmarshal(value, &name); err != nil {
			continue
		}
		name = normalizeName(name)
		if name == "" {
			continue
		}
		key := store.PersonaKey(name)
		if _, dup := taken[key]; dup {
			m.logger.Debug("persona suggestion dropped",
				logging.String("name", name),
				logging.String(logging.FieldEventType, "persona_suggestion_duplicate"),
			)
			continue
		}
		taken[key] = struct{}{}
		out = append(out, name)
		if len(out) == m.opts.MaxSuggestions {
			break
		}
	}
	return out
}

// normalizeName collapses whitespace, bounds the length, and capitalizes
// words written entirely in lower case. Mixed-case words such as "UX" or
// "iOS" are kept as written.
func normalizeName(name string) string {
	name = textutil.TruncateRunes(textutil.CollapseWhitespace(name), store.MaxPersonaNameRunes)
	// Casers carry state, so each call gets its own.
	title := cases.Title(language.Und, cases.NoLower)
	words := strings.Fields(name)
	for i, word := range words {
		if isLower(word) {
			words[i] = title.String(word)
		}
	}
	return strings.Join(words, " ")
}

func isLower(word string) bool {
	hasLetter := false
	for _, r := range word {
		if unicode.IsUpper(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}
