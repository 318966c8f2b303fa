// Package textutil provides small text helpers shared by the transcript,
// analysis and persistence packages: whitespace collapsing, rune-safe
// truncation and sentence splitting.
//
// Sentence boundaries are a terminal '.', '!' or '?' followed by whitespace.
// Abbreviations are not special-cased; callers that need exact boundaries
// should not rely on these helpers.
package textutil
