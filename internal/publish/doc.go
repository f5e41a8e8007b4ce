// Package publish hands transcribed intents to the downstream orchestrator.
//
// Publishing is one-way: Outbox.Publish durably enqueues the intent and
// returns, which is the acknowledgement the pipeline waits for. A Relay
// drains the outbox to the configured webhook in the background, retrying
// with backoff and parking entries that can never be delivered.
package publish
