// Package persona suggests persona tags for a finished analysis.
//
// The matcher asks the model which of the owner's existing personas fit the
// interview and which new personas it would propose. Suggestions are cleaned
// and deduplicated case-insensitively against the existing list and against
// each other. The package never writes: callers confirm suggestions through
// the store's create and link operations.
package persona
