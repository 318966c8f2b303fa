// Package services defines shared utilities consumed by the analysis pipeline
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp correlation IDs, stage names, and interview
//     IDs for logging.
//   - Sentinel error markers plus the Wrap helper; every typed error in the
//     pipeline unwraps to one of these markers so Kind and UserMessage can map
//     failures to "re-upload", "retry" or "contact support".
package services
