// Package config loads, normalizes, and validates voice2action configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MS_GRAPH_CLIENT_ID or OFFLINE_MODE. The Config type centralizes every knob the
// daemon and CLI need so inbox folders, Graph credentials, and the state store
// DSN are discovered in one pass.
//
// Only the daemon and CLI entry points read configuration. Pipeline code
// receives an immutable run configuration derived from it and never consults
// the environment directly.
package config
