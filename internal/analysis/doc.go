// Package analysis runs the staged LLM chain over a parsed transcript.
//
// The Orchestrator is a small state machine:
//
//	init -> extract_problems -> extract_excerpts -> synthesize -> done
//
// with failed reachable from every stage. Problem extraction is one call over
// the normalized transcript. Excerpt extraction issues one call per problem
// area on a bounded errgroup; synthesis waits for all of them. Every call runs
// under retry.Policy with a per-call timeout, and every stage under a stage
// timeout. Decode and schema failures are retried with a corrective
// re-prompt that quotes the rejection.
//
// The Validator decodes model output strictly (unknown fields fail) and
// checks it with go-playground/validator tags. Excerpts citing chunks outside
// the transcript are dropped rather than failing the stage.
//
// A failed run returns *AnalysisFailedError with the partial Result so callers
// decide whether to show or discard it. Metadata is always recomputed by
// Result.Finalize.
package analysis
