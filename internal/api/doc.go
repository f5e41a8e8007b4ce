// Package api is the HTTP front end of the voice2action daemon.
//
// It accepts schedule ticks pushed by a pub/sub sidecar or the CLI, exposes
// read-only views of orchestration instances and inbox markers, and drives the
// OAuth consent round trip that seeds the Graph credential.
//
// # Routes
//
//	POST /schedule-voice2action   deliver a tick (message id from ce-id or the envelope)
//	GET  /instances               list orchestration instances
//	GET  /instances/:id           one instance with its step history
//	GET  /files                   inbox marker states
//	GET  /auth/start              redirect to the consent page
//	GET  /auth/callback           redeem the consent code
//	GET  /auth/status             cached credential summary
//	GET  /healthz                 liveness
//
// # Design Notes
//
// Tick responses use the pub/sub subscriber vocabulary (SUCCESS, RETRY, DROP)
// so a sidecar redelivers only when the dispatcher asks for it. DTOs use
// camelCase JSON tags and RFC3339 timestamps with milliseconds.
package api
