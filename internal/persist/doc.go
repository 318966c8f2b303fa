// Package persist flattens an analysis result into relational rows and
// writes them in a single transaction.
//
// BuildPlan is pure: it derives the interview title, counts and row tree and
// rejects excerpts that cite chunks outside the transcript. Mapper.Persist
// replays the plan against a Storage collaborator inside one Tx; any failure
// rolls back and surfaces as *StorageError, so either the whole
// interview/problem area/excerpt tree commits or none of it does.
package persist
