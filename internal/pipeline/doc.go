// Package pipeline runs one transcript through ingest, analysis, optional
// persona suggestion, and persistence.
//
// Service.Analyze is the single entry point used by both the CLI and the HTTP
// API. A process-wide semaphore bounds how many analyses run at once and every
// request carries a correlation id in its context. Only a complete result is
// ever written; a failed or cancelled run returns its partial result to the
// caller without touching storage.
package pipeline
