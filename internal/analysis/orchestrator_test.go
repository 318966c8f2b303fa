package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"fieldnotes/internal/logging"
	"fieldnotes/internal/retry"
	"fieldnotes/internal/services"
	"fieldnotes/internal/transcript"
)

type stageFunc func(ctx context.Context, user string, call int) (string, error)

// scriptedLLM answers by stage, identified from the system prompt.
type scriptedLLM struct {
	mu       sync.Mutex
	problems stageFunc
	excerpts stageFunc
	synth    stageFunc
	calls    map[State]int
	users    map[State][]string
}

func (s *scriptedLLM) Complete(ctx context.Context, system, user string) (string, error) {
	var (
		state State
		fn    stageFunc
	)
	switch {
	case system == ProblemExtractionPrompt:
		state, fn = StateExtractProblems, s.problems
	case system == SynthesisPrompt:
		state, fn = StateSynthesize, s.synth
	default:
		state, fn = StateExtractExcerpts, s.excerpts
	}
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[State]int{}
		s.users = map[State][]string{}
	}
	s.calls[state]++
	n := s.calls[state]
	s.users[state] = append(s.users[state], user)
	s.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("no script for %s", state)
	}
	return fn(ctx, user, n)
}

func (s *scriptedLLM) count(state State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[state]
}

func fixed(payload string) stageFunc {
	return func(context.Context, string, int) (string, error) { return payload, nil }
}

func testOptions() Options {
	return Options{
		Policy:         retry.Policy{MaxAttempts: 3},
		ExcerptWorkers: 2,
		CallTimeout:    time.Second,
		StageTimeout:   5 * time.Second,
	}
}

func twoChunks() []transcript.Chunk {
	return []transcript.Chunk{
		{Number: 1, Speaker: "Interviewer", Text: "How do you share reports?"},
		{Number: 2, Speaker: "Sam", Text: "I email spreadsheets and it is painful."},
	}
}

const twoProblems = `{"problem_areas":[{"title":"Report sharing","description":"Reports are emailed."},{"title":"Spreadsheet pain","description":"Spreadsheets break."}]}`

const goodSynthesis = `{"background":"Sam runs reporting.","problem_areas":["Sharing","Spreadsheets"],"next_steps":["Prototype shared reports"]}`

func TestRunSuccess(t *testing.T) {
	llm := &scriptedLLM{
		problems: fixed(twoProblems),
		excerpts: func(_ context.Context, user string, _ int) (string, error) {
			if strings.Contains(user, "Report sharing") {
				return `{"excerpts":[{"quote":"I email spreadsheets","categories":["workaround"],"insight":"email is the channel","chunk_number":2}]}`, nil
			}
			return `{"excerpts":[{"quote":"it is painful","categories":["pain_point","frustration"],"insight":"pain","chunk_number":2},{"quote":"How do you share","categories":["context"],"insight":"","chunk_number":1}]}`, nil
		},
		synth: fixed(goodSynthesis),
	}
	run, err := NewOrchestrator(llm, testOptions()).Run(context.Background(), twoChunks())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if run.State != StateDone || run.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected run state %s outcome %s", run.State, run.Outcome)
	}
	result := run.Result
	if len(result.ProblemAreas) != 2 || result.ProblemAreas[0].ProblemID != "pa-1" || result.ProblemAreas[1].ProblemID != "pa-2" {
		t.Fatalf("unexpected problem areas %+v", result.ProblemAreas)
	}
	if len(result.ProblemAreas[0].Excerpts) != 1 || len(result.ProblemAreas[1].Excerpts) != 2 {
		t.Fatalf("excerpts not stored at problem index: %+v", result.ProblemAreas)
	}
	want := Metadata{TranscriptLength: 2, ProblemAreasCount: 2, ExcerptsCount: 3}
	if result.Metadata != want {
		t.Fatalf("Metadata = %+v, want %+v", result.Metadata, want)
	}
	if result.Synthesis == nil || result.Synthesis.Background != "Sam runs reporting." {
		t.Fatalf("unexpected synthesis %+v", result.Synthesis)
	}
	if run.Attempts[StateExtractProblems] != 1 || run.Attempts[StateExtractExcerpts] != 2 || run.Attempts[StateSynthesize] != 1 {
		t.Fatalf("unexpected attempts %v", run.Attempts)
	}
	if !strings.Contains(llm.users[StateExtractProblems][0], "[2] Sam: I email spreadsheets") {
		t.Fatalf("expected rendered transcript in prompt, got %q", llm.users[StateExtractProblems][0])
	}
}

func TestRunDropsOutOfRangeExcerpt(t *testing.T) {
	llm := &scriptedLLM{
		problems: fixed(`{"problem_areas":[{"title":"Sharing","description":"Reports are emailed."}]}`),
		excerpts: fixed(`{"excerpts":[{"quote":"real","categories":["need"],"insight":"","chunk_number":2},{"quote":"made up","categories":["need"],"insight":"","chunk_number":99}]}`),
		synth:    fixed(goodSynthesis),
	}
	run, err := NewOrchestrator(llm, testOptions()).Run(context.Background(), twoChunks())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if run.Result.Metadata.ExcerptsCount != 1 {
		t.Fatalf("expected 1 excerpt after drop, got %d", run.Result.Metadata.ExcerptsCount)
	}
	if run.Dropped != 1 {
		t.Fatalf("expected dropped count 1, got %d", run.Dropped)
	}
	for _, ex := range run.Result.ProblemAreas[0].Excerpts {
		if ex.ChunkNumber == 99 {
			t.Fatal("out-of-range excerpt survived")
		}
	}
}

func TestRunFailsAfterRepeatedTimeouts(t *testing.T) {
	llm := &scriptedLLM{
		problems: func(ctx context.Context, _ string, _ int) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	opts := testOptions()
	opts.CallTimeout = 20 * time.Millisecond
	run, err := NewOrchestrator(llm, opts).Run(context.Background(), twoChunks())
	if err == nil {
		t.Fatal("expected analysis failure")
	}
	var failed *AnalysisFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected AnalysisFailedError, got %T: %v", err, err)
	}
	if !errors.Is(err, services.ErrAnalysisFailed) || !errors.Is(err, services.ErrLLMCall) {
		t.Fatalf("expected analysis and llm markers, got %v", err)
	}
	if failed.Stage != StateExtractProblems || run.FailedStage != StateExtractProblems {
		t.Fatalf("unexpected failed stage %s", failed.Stage)
	}
	if llm.count(StateExtractProblems) != 3 || run.Attempts[StateExtractProblems] != 3 {
		t.Fatalf("expected 3 attempts, got %d", llm.count(StateExtractProblems))
	}
	if run.State != StateFailed || run.Outcome != OutcomeFailed {
		t.Fatalf("unexpected state %s outcome %s", run.State, run.Outcome)
	}
	if llm.count(StateExtractExcerpts) != 0 || llm.count(StateSynthesize) != 0 {
		t.Fatal("later stages ran after failure")
	}
	if services.Kind(err) != services.KindAnalysis {
		t.Fatalf("expected analysis kind, got %s", services.Kind(err))
	}
}

func TestRunCorrectiveRepromptThenSuccess(t *testing.T) {
	llm := &scriptedLLM{
		problems: func(_ context.Context, _ string, call int) (string, error) {
			if call == 1 {
				return `here you go: problems!`, nil
			}
			return twoProblems, nil
		},
		excerpts: fixed(`{"excerpts":[]}`),
		synth:    fixed(goodSynthesis),
	}
	run, err := NewOrchestrator(llm, testOptions()).Run(context.Background(), twoChunks())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if run.Attempts[StateExtractProblems] != 2 {
		t.Fatalf("expected 2 attempts, got %d", run.Attempts[StateExtractProblems])
	}
	users := llm.users[StateExtractProblems]
	if strings.Contains(users[0], "previous response was rejected") {
		t.Fatal("first attempt should not carry a correction")
	}
	if !strings.Contains(users[1], "previous response was rejected") {
		t.Fatalf("expected corrective re-prompt, got %q", users[1])
	}
}

func TestRunSynthesisFailureReturnsPartial(t *testing.T) {
	llm := &scriptedLLM{
		problems: fixed(twoProblems),
		excerpts: fixed(`{"excerpts":[{"quote":"q","categories":["need"],"insight":"","chunk_number":1}]}`),
		synth:    fixed(`{"problem_areas":[]}`),
	}
	run, err := NewOrchestrator(llm, testOptions()).Run(context.Background(), twoChunks())
	var failed *AnalysisFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected AnalysisFailedError, got %v", err)
	}
	if failed.Stage != StateSynthesize || run.Outcome != OutcomePartial {
		t.Fatalf("unexpected stage %s outcome %s", failed.Stage, run.Outcome)
	}
	if failed.Partial == nil || len(failed.Partial.ProblemAreas) != 2 || failed.Partial.Metadata.ExcerptsCount != 2 {
		t.Fatalf("expected partial result with problems and excerpts, got %+v", failed.Partial)
	}
	if failed.Partial.Synthesis != nil || failed.Partial.Complete() {
		t.Fatal("partial result must not look complete")
	}
	if llm.count(StateSynthesize) != 3 {
		t.Fatalf("expected 3 synthesis attempts, got %d", llm.count(StateSynthesize))
	}
}

func TestRunExcerptFailureFailsStage(t *testing.T) {
	llm := &scriptedLLM{
		problems: fixed(twoProblems),
		excerpts: func(_ context.Context, user string, _ int) (string, error) {
			if strings.Contains(user, "Spreadsheet pain") {
				return "not json", nil
			}
			return `{"excerpts":[]}`, nil
		},
	}
	run, err := NewOrchestrator(llm, testOptions()).Run(context.Background(), twoChunks())
	if !errors.Is(err, services.ErrOutputParse) {
		t.Fatalf("expected parse error cause, got %v", err)
	}
	if run.FailedStage != StateExtractExcerpts || run.Outcome != OutcomePartial {
		t.Fatalf("unexpected failed stage %s outcome %s", run.FailedStage, run.Outcome)
	}
	if llm.count(StateSynthesize) != 0 {
		t.Fatal("synthesis must not run after excerpt failure")
	}
}

func TestRunBoundsExcerptConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	var problems []string
	for i := 1; i <= 6; i++ {
		problems = append(problems, fmt.Sprintf(`{"title":"Problem %d","description":"d"}`, i))
	}
	llm := &scriptedLLM{
		problems: fixed(`{"problem_areas":[` + strings.Join(problems, ",") + `]}`),
		excerpts: func(context.Context, string, int) (string, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return `{"excerpts":[]}`, nil
		},
		synth: fixed(goodSynthesis),
	}
	run, err := NewOrchestrator(llm, testOptions()).Run(context.Background(), twoChunks())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent excerpt calls, saw %d", peak.Load())
	}
	for i, pa := range run.Result.ProblemAreas {
		if pa.ProblemID != fmt.Sprintf("pa-%d", i+1) || pa.Title != fmt.Sprintf("Problem %d", i+1) {
			t.Fatalf("problem order not preserved at %d: %+v", i, pa)
		}
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	llm := &scriptedLLM{problems: fixed(twoProblems)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := NewOrchestrator(llm, testOptions()).Run(ctx, twoChunks())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if run.State != StateFailed || llm.count(StateExtractProblems) != 0 {
		t.Fatalf("expected no calls after cancellation, state %s", run.State)
	}
	if services.Kind(err) != services.KindCanceled {
		t.Fatalf("expected canceled kind, got %s", services.Kind(err))
	}
}

func TestRunCancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	llm := &scriptedLLM{
		problems: func(context.Context, string, int) (string, error) {
			cancel()
			return twoProblems, nil
		},
		excerpts: fixed(`{"excerpts":[]}`),
	}
	run, err := NewOrchestrator(llm, testOptions()).Run(ctx, twoChunks())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if run.FailedStage != StateExtractExcerpts {
		t.Fatalf("expected failure at excerpt boundary, got %s", run.FailedStage)
	}
	if llm.count(StateExtractExcerpts) != 0 {
		t.Fatal("excerpt calls issued after cancellation")
	}
}

func TestRunStageTimeoutWrapsErrTimeout(t *testing.T) {
	llm := &scriptedLLM{
		problems: func(ctx context.Context, _ string, _ int) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	opts := testOptions()
	opts.StageTimeout = 30 * time.Millisecond
	run, err := NewOrchestrator(llm, opts).Run(context.Background(), twoChunks())
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected stage timeout, got %v", err)
	}
	if errors.Is(err, services.ErrLLMCall) {
		t.Fatalf("stage deadline must not be reported as a call timeout: %v", err)
	}
	if run.FailedStage != StateExtractProblems || services.Kind(err) != services.KindAnalysis {
		t.Fatalf("unexpected failed stage %s kind %s", run.FailedStage, services.Kind(err))
	}
	if llm.count(StateExtractExcerpts) != 0 {
		t.Fatal("excerpt stage ran after a stage timeout")
	}
}

func alternatingChunks(n int, text func(i int) string) []transcript.Chunk {
	chunks := make([]transcript.Chunk, 0, n)
	for i := 1; i <= n; i++ {
		speaker := "Interviewer"
		if i%2 == 0 {
			speaker = "Sam"
		}
		chunks = append(chunks, transcript.Chunk{Number: i, Speaker: speaker, Text: text(i)})
	}
	return chunks
}

func completeScript() *scriptedLLM {
	return &scriptedLLM{
		problems: fixed(twoProblems),
		excerpts: fixed(`{"excerpts":[]}`),
		synth:    fixed(goodSynthesis),
	}
}

func TestRunTruncatesBelowBatchSize(t *testing.T) {
	var logs bytes.Buffer
	opts := testOptions()
	opts.PromptBudgetChars = 5000
	opts.Logger = slog.New(slog.NewJSONHandler(&logs, nil))
	chunks := alternatingChunks(100, func(i int) string {
		return fmt.Sprintf("Answer %d walks through how the weekly report gets assembled and who reads it.", i)
	})

	llm := completeScript()
	run, err := NewOrchestrator(llm, opts).Run(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !run.Truncated {
		t.Fatal("expected transcript to be truncated")
	}
	prompt := llm.users[StateExtractProblems][0]
	if !strings.HasSuffix(prompt, truncatedMarker) {
		t.Fatalf("expected truncation marker at end of prompt, got %q", prompt[len(prompt)-80:])
	}
	limit := opts.PromptBudgetChars + utf8.RuneCountInString(problemsUserPrompt("\n"+truncatedMarker))
	if n := utf8.RuneCountInString(prompt); n > limit {
		t.Fatalf("prompt has %d runes, budget allows %d", n, limit)
	}
	if !strings.Contains(prompt, "[1] Interviewer: Answer 1 ") || strings.Contains(prompt, "[100] ") {
		t.Fatal("expected the beginning of the transcript and not the end")
	}
	if !strings.Contains(logs.String(), `"`+logging.FieldAlert+`":"transcript_truncated"`) {
		t.Fatalf("expected truncation alert in logs, got %s", logs.String())
	}
}

func TestRunMeasuresBudgetInRunes(t *testing.T) {
	opts := testOptions()
	opts.PromptBudgetChars = 600
	chunks := alternatingChunks(10, func(int) string { return strings.Repeat("é", 40) })

	llm := completeScript()
	run, err := NewOrchestrator(llm, opts).Run(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	prompt := llm.users[StateExtractProblems][0]
	if len(prompt) <= opts.PromptBudgetChars {
		t.Fatalf("test transcript should exceed the budget in bytes, got %d", len(prompt))
	}
	if run.Truncated || strings.Contains(prompt, truncatedMarker) {
		t.Fatal("transcript within the rune budget was truncated")
	}
}

type hintedError struct {
	retry bool
	after time.Duration
}

func (e *hintedError) Error() string { return "upstream failure" }
func (e *hintedError) RetryHint() (bool, time.Duration) { return e.retry, e.after }

func TestClassifyStageErrorHonorsRetryHint(t *testing.T) {
	wrap := func(err error) error {
		return services.Wrap(services.ErrLLMCall, "", "llm call", "timed out", err)
	}
	tests := []struct {
		name      string
		err       error
		wantRetry bool
		wantAfter time.Duration
	}{
		{"server asks to wait", wrap(&hintedError{retry: true, after: 2 * time.Second}), true, 2 * time.Second},
		{"permanent upstream failure", wrap(&hintedError{}), false, 0},
		{"plain llm failure", services.ErrLLMCall, true, 0},
		{"cancelled", context.Canceled, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, after := ClassifyStageError(tt.err)
			if retry != tt.wantRetry || after != tt.wantAfter {
				t.Fatalf("ClassifyStageError = (%v, %s), want (%v, %s)", retry, after, tt.wantRetry, tt.wantAfter)
			}
		})
	}
}
