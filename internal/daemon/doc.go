// Package daemon coordinates the long-running voice2action process.
//
// It wires configuration, the state store, the credential manager, the inbox
// provider for the configured mode, the orchestration engine, the tick
// producer, the local inbox watcher, the publish relay, and the HTTP API into
// a single lifecycle with flock-based locking to prevent multiple instances
// against one state directory.
//
// Keep orchestration logic out of here: steps live in the pipeline package
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
