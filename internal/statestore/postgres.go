package statestore

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
)

// OpenPostgres connects to a PostgreSQL database using a libpq-style URL.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	ctx = ensureContext(ctx)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := newSQLStore(db, "postgres", sq.Dollar)
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
