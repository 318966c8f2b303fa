package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"fieldnotes/internal/logging"
	"fieldnotes/internal/retry"
	"fieldnotes/internal/services"
	"fieldnotes/internal/transcript"
)

// State is a step of the analysis state machine.
type State string

const (
	StateInit            State = "init"
	StateExtractProblems State = "extract_problems"
	StateExtractExcerpts State = "extract_excerpts"
	StateSynthesize      State = "synthesize"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomePartial means a later stage failed after earlier stages produced data.
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

const (
	defaultExcerptWorkers    = 4
	defaultCallTimeout       = 2 * time.Minute
	defaultStageTimeout      = 10 * time.Minute
	defaultPromptBudgetChars = 60000
)

// Completer is the LLM collaborator: prompts in, raw model text out.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Options tunes an Orchestrator. Zero values use defaults.
type Options struct {
	Policy            retry.Policy
	ExcerptWorkers    int
	CallTimeout       time.Duration
	StageTimeout      time.Duration
	Normalize         transcript.NormalizeOptions
	BatchChars        int
	PromptBudgetChars int
	Logger            *slog.Logger
}

// Orchestrator drives problem extraction, excerpt extraction and synthesis.
type Orchestrator struct {
	llm    Completer
	opts   Options
	logger *slog.Logger
}

// Run records the state machine's progress and whatever data it gathered.
type Run struct {
	State       State
	FailedStage State
	Outcome     Outcome
	Result      *Result
	Attempts    map[State]int
	Truncated   bool
	Dropped     int
	Err         error
}

// NewOrchestrator constructs an orchestrator around the supplied completer.
func NewOrchestrator(llm Completer, opts Options) *Orchestrator {
	if opts.Policy.MaxAttempts <= 0 && opts.Policy.BaseDelay == 0 && opts.Policy.MaxDelay == 0 {
		sleeper := opts.Policy.Sleeper
		opts.Policy = retry.Default()
		opts.Policy.Sleeper = sleeper
	}
	opts.Policy.Classify = ClassifyStageError
	if opts.ExcerptWorkers <= 0 {
		opts.ExcerptWorkers = defaultExcerptWorkers
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.BatchChars <= 0 {
		opts.BatchChars = transcript.DefaultBatchChars
	}
	if opts.PromptBudgetChars <= 0 {
		opts.PromptBudgetChars = defaultPromptBudgetChars
	}
	if opts.BatchChars > opts.PromptBudgetChars {
		opts.BatchChars = opts.PromptBudgetChars
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		llm:    llm,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "analysis"),
	}
}

// Run executes the chain over chunks. On failure it returns the Run together
// with an *AnalysisFailedError carrying the partial result.
func (o *Orchestrator) Run(ctx context.Context, chunks []transcript.Chunk) (*Run, error) {
	run := &Run{
		State:    StateInit,
		Attempts: make(map[State]int, 3),
		Result:   &Result{Transcript: chunks},
	}
	logger := logging.WithContext(ctx, o.logger)

	if len(chunks) == 0 {
		return o.fail(run, StateExtractProblems, &ValidationError{Stage: StateInit, Reason: "transcript has no chunks"})
	}

	units := transcript.Normalize(chunks, o.opts.Normalize)
	rendered, truncated := o.renderTranscript(units)
	run.Truncated = truncated
	if truncated {
		logging.WarnWithContext(logger, "transcript exceeds prompt budget; truncating", "transcript_truncated",
			logging.Alert("transcript_truncated"),
			logging.Int("chunks", len(chunks)),
			logging.Int("prompt_budget_chars", o.opts.PromptBudgetChars),
			logging.String(logging.FieldImpact, "problems and excerpts only cover the beginning of the interview"),
			logging.String(logging.FieldErrorHint, "raise analysis.prompt_budget_chars if the model allows it"),
		)
	}
	validator := NewValidator(len(chunks), units, logger)

	// extract_problems
	if err := ctx.Err(); err != nil {
		return o.fail(run, StateExtractProblems, err)
	}
	run.State = StateExtractProblems
	problems, err := o.extractProblems(ctx, run, validator, rendered)
	if err != nil {
		return o.fail(run, StateExtractProblems, err)
	}
	run.Result.ProblemAreas = problems

	// extract_excerpts
	if err := ctx.Err(); err != nil {
		return o.fail(run, StateExtractExcerpts, err)
	}
	run.State = StateExtractExcerpts
	if err := o.extractAllExcerpts(ctx, run, validator, rendered); err != nil {
		return o.fail(run, StateExtractExcerpts, err)
	}

	// synthesize
	if err := ctx.Err(); err != nil {
		return o.fail(run, StateSynthesize, err)
	}
	run.State = StateSynthesize
	synthesis, err := o.synthesize(ctx, run, validator)
	if err != nil {
		return o.fail(run, StateSynthesize, err)
	}
	run.Result.Synthesis = synthesis

	run.State = StateDone
	run.Outcome = OutcomeSuccess
	run.Result.Finalize()
	logger.Info("analysis complete",
		logging.String(logging.FieldEventType, "analysis_complete"),
		logging.Int("problem_areas", run.Result.Metadata.ProblemAreasCount),
		logging.Int("excerpts", run.Result.Metadata.ExcerptsCount),
		logging.Int("excerpts_dropped", run.Dropped),
	)
	return run, nil
}

func (o *Orchestrator) fail(run *Run, stage State, err error) (*Run, error) {
	run.State = StateFailed
	run.FailedStage = stage
	run.Outcome = OutcomeFailed
	if len(run.Result.ProblemAreas) > 0 {
		run.Outcome = OutcomePartial
	}
	run.Result.Finalize()
	failure := &AnalysisFailedError{Stage: stage, Partial: run.Result, Err: err}
	run.Err = failure
	return run, failure
}

// renderTranscript renders whole batches while they fit PromptBudgetChars
// and fills the remainder unit by unit. Sizes are in runes. The first unit is
// always kept so a prompt is never empty.
func (o *Orchestrator) renderTranscript(units []transcript.Unit) (string, bool) {
	budget := o.opts.PromptBudgetChars
	var (
		included []transcript.Unit
		size     int
	)
	for _, batch := range transcript.Batch(units, o.opts.BatchChars) {
		batchSize := utf8.RuneCountInString(transcript.Render(batch)) + 1
		if size+batchSize <= budget {
			included = append(included, batch...)
			size += batchSize
			continue
		}
		for _, unit := range batch {
			lineSize := utf8.RuneCountInString(unit.Line()) + 1
			if len(included) > 0 && size+lineSize > budget {
				return transcript.Render(included) + "\n" + truncatedMarker, true
			}
			included = append(included, unit)
			size += lineSize
		}
	}
	return transcript.Render(included), false
}

func (o *Orchestrator) extractProblems(ctx context.Context, run *Run, v *Validator, rendered string) ([]ProblemArea, error) {
	var problems []ProblemArea
	attempts, err := o.stage(ctx, StateExtractProblems, func(ctx context.Context) (int, error) {
		return o.call(ctx, ProblemExtractionPrompt, problemsUserPrompt(rendered), func(raw string) error {
			decoded, err := v.DecodeProblems(raw)
			if err != nil {
				return err
			}
			problems = decoded
			return nil
		})
	})
	run.Attempts[StateExtractProblems] = attempts
	return problems, err
}

func (o *Orchestrator) extractAllExcerpts(ctx context.Context, run *Run, v *Validator, rendered string) error {
	problems := run.Result.ProblemAreas
	var (
		mu       sync.Mutex
		attempts int
		dropped  int
	)
	system := excerptSystemPrompt()
	_, err := o.stage(ctx, StateExtractExcerpts, func(stageCtx context.Context) (int, error) {
		g, gctx := errgroup.WithContext(stageCtx)
		g.SetLimit(o.opts.ExcerptWorkers)
		for i := range problems {
			g.Go(func() error {
				problem := problems[i]
				var (
					excerpts []Excerpt
					report   ExcerptReport
				)
				callCtx := services.WithStage(gctx, string(StateExtractExcerpts))
				n, err := o.call(callCtx, system, excerptsUserPrompt(problem, rendered), func(raw string) error {
					decoded, rep, err := v.DecodeExcerpts(raw, problem.ProblemID)
					if err != nil {
						return err
					}
					excerpts, report = decoded, rep
					return nil
				})
				mu.Lock()
				defer mu.Unlock()
				attempts += n
				if err != nil {
					return fmt.Errorf("problem %s: %w", problem.ProblemID, err)
				}
				dropped += report.Dropped
				problems[i].Excerpts = excerpts
				return nil
			})
		}
		return 0, g.Wait()
	})
	run.Attempts[StateExtractExcerpts] = attempts
	run.Dropped = dropped
	return err
}

func (o *Orchestrator) synthesize(ctx context.Context, run *Run, v *Validator) (*Synthesis, error) {
	user, err := synthesisUserPrompt(run.Result.ProblemAreas)
	if err != nil {
		return nil, err
	}
	var synthesis *Synthesis
	attempts, err := o.stage(ctx, StateSynthesize, func(ctx context.Context) (int, error) {
		return o.call(ctx, SynthesisPrompt, user, func(raw string) error {
			decoded, err := v.DecodeSynthesis(raw)
			if err != nil {
				return err
			}
			synthesis = decoded
			return nil
		})
	})
	run.Attempts[StateSynthesize] = attempts
	return synthesis, err
}

// stage bounds fn by StageTimeout and logs its start and end.
func (o *Orchestrator) stage(ctx context.Context, state State, fn func(ctx context.Context) (int, error)) (int, error) {
	stageCtx, cancel := context.WithTimeout(services.WithStage(ctx, string(state)), o.opts.StageTimeout)
	defer cancel()
	logger := logging.WithContext(stageCtx, o.logger)
	started := time.Now()
	logger.Info("analysis stage started", logging.String(logging.FieldEventType, "stage_start"))

	attempts, err := fn(stageCtx)
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = services.Wrap(services.ErrTimeout, string(state), "stage", fmt.Sprintf("exceeded %s", o.opts.StageTimeout), err)
	}
	if err != nil {
		logging.ErrorWithContext(logger, "analysis stage failed", "stage_failed",
			logging.Error(err),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldErrorHint, "check LLM availability and the model's JSON output"),
		)
		return attempts, err
	}
	logger.Info("analysis stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", time.Since(started)),
	)
	return attempts, nil
}

// call issues one LLM request under the retry policy. accept decodes the raw
// text; decode and validation failures feed a corrective re-prompt.
func (o *Orchestrator) call(ctx context.Context, system, user string, accept func(raw string) error) (int, error) {
	attempts := 0
	err := o.opts.Policy.Do(ctx, func(ctx context.Context, attempt int, prev error) error {
		attempts = attempt
		prompt := user
		if prev != nil && (errors.Is(prev, services.ErrOutputParse) || errors.Is(prev, services.ErrValidation)) {
			prompt = correctivePrompt(user, prev)
		}
		callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		defer cancel()
		raw, err := o.llm.Complete(callCtx, system, prompt)
		if err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				err = services.Wrap(services.ErrLLMCall, "", "llm call", fmt.Sprintf("timed out after %s", o.opts.CallTimeout), err)
			}
			o.logAttemptFailure(ctx, attempt, err)
			return err
		}
		if err := accept(raw); err != nil {
			o.logAttemptFailure(ctx, attempt, err)
			return err
		}
		return nil
	})
	return attempts, err
}

func (o *Orchestrator) logAttemptFailure(ctx context.Context, attempt int, err error) {
	logging.WithContext(ctx, o.logger).Debug("analysis attempt failed",
		logging.Int(logging.FieldAttempt, attempt),
		logging.String(logging.FieldEventType, "attempt_failed"),
		logging.Error(err),
	)
}

// RetryHinter is implemented by completer errors that know whether the
// failed request is worth repeating and how long to wait before it.
type RetryHinter interface {
	RetryHint() (bool, time.Duration)
}

// ClassifyStageError is the retry.Classifier for stage calls: LLM, parse and
// validation failures and call timeouts are retried, cancellation never is.
// A RetryHinter in the chain decides for LLM failures.
func ClassifyStageError(err error) (bool, time.Duration) {
	var hinter RetryHinter
	switch {
	case errors.Is(err, context.Canceled):
		return false, 0
	case errors.As(err, &hinter):
		return hinter.RetryHint()
	case errors.Is(err, services.ErrLLMCall),
		errors.Is(err, services.ErrOutputParse),
		errors.Is(err, services.ErrValidation),
		errors.Is(err, context.DeadlineExceeded):
		return true, 0
	default:
		return false, 0
	}
}
