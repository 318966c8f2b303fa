// Package api serves the fieldnotes HTTP surface.
//
// # Endpoints
//
// POST /api/analyze: run one transcript through the pipeline. The body is the
// raw transcript or a multipart form with a "file" field. Options come from
// query or form values (owner, project_id, interviewer, interview_date,
// title, format, suggest_personas, persona_ids, dry_run).
//
// GET /api/personas and POST /api/personas: list and create an owner's
// personas. A name that collides case-insensitively returns 409.
//
// POST /api/interviews/{id}/personas: link confirmed personas to a stored
// interview.
//
// GET /api/health: liveness plus a database ping.
//
// # Errors
//
// Failures are JSON {"error": kind, "message": text, "partial": result}. The
// kind comes from services.Kind and maps onto the HTTP status (StatusFor).
// "partial" carries whatever analysis the run produced before failing.
//
// When a token is configured every endpoint except health requires
// "Authorization: Bearer <token>".
package api
