// Package transcript turns raw interview transcripts into numbered chunks and
// regroups them into prompt-sized units.
//
// Parse accepts WebVTT cue files and plain "Speaker: text" transcripts.
// Every chunk receives a 1-based Number that never changes afterwards; it is
// the citation key excerpts point back to. Normalize merges very short
// same-speaker turns and splits very long ones at sentence boundaries, but a
// Unit only records which original numbers it covers. Render and Batch build
// the prompt text the analysis chain sends to the model.
//
// Everything here is a pure transform except ParseFile, which reads a file
// for the CLI.
package transcript
