// Package store persists interviews, their problem areas and excerpts,
// personas, and projects in SQLite.
//
// The database runs in WAL mode with foreign keys enforced. Writes that hit
// SQLITE_BUSY are retried with a short exponential backoff. The schema is
// embedded and versioned; a database created by a different schema version is
// rejected with ErrSchemaMismatch rather than migrated.
//
// Store implements persist.Storage so the analysis tree of one interview is
// always written inside a single transaction.
package store
