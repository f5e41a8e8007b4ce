package statestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("state store closed")

// Entry is one key as returned by List.
type Entry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Store is a durable string key-value store.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set creates or replaces key.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every entry whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// Open connects to the backend named by dsn.
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("state dsn %q: missing scheme (expected sqlite://, postgres://, or memory://)", dsn)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3", "file":
		if strings.TrimSpace(rest) == "" {
			return nil, fmt.Errorf("state dsn %q: missing sqlite path", dsn)
		}
		return OpenSQLite(ctx, rest)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, dsn)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("state dsn %q: unsupported scheme %q", dsn, scheme)
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
