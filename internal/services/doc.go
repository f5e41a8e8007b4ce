// Package services defines shared utilities consumed by the orchestration
// steps and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp instance IDs, step names, file IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper. The orchestration engine
//     consults Retryable to decide whether a failed step is attempted again.
//   - StatusMarker, which classifies HTTP responses from the Graph drive, the
//     transcription endpoint, and the intent webhook the same way.
//
// Use these helpers when wiring new step logic so error handling and
// observability stay uniform across the pipeline.
package services
