// Command fieldnotes is the command-line interface for the interview
// analysis pipeline.
//
// Analyses run in-process against the configured SQLite database and
// OpenRouter model. The serve subcommand runs the HTTP API in the
// foreground for clients that prefer uploading transcripts.
//
// Commands:
//
//	fieldnotes analyze <file>            analyze a transcript and save it
//	fieldnotes interviews list|show      browse saved interviews
//	fieldnotes personas list|add         manage personas
//	fieldnotes llm check                 verify the model is reachable
//	fieldnotes config init|validate      configuration utilities
//	fieldnotes serve                     run the HTTP API
package main
