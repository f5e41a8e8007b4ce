// Package statestore provides the durable key-value store shared by every
// voice2action component.
//
// Keys and values are opaque strings. Each key is written independently; the
// store offers no cross-key transactions, so callers that maintain paired keys
// (such as the inbox pending and downloaded markers) must order their writes so
// that any intermediate state is safe.
//
// Backends are selected by DSN: sqlite:// (default, modernc.org/sqlite with WAL
// and busy retries), postgres:// (lib/pq), and memory:// for tests. SQL is built
// with squirrel so both relational backends share one implementation.
package statestore
