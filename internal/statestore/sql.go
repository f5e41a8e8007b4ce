package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const (
	stateTable   = "kv_state"
	versionTable = "schema_version"

	// schemaVersion is the current schema version. Bump this when the schema changes.
	schemaVersion = 1
)

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS kv_state (
		state_key TEXT PRIMARY KEY,
		state_value TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
}

// SQLStore is a Store backed by a relational database.
type SQLStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	backend string
	now     func() time.Time
}

func newSQLStore(db *sql.DB, backend string, format sq.PlaceholderFormat) *SQLStore {
	return &SQLStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
		backend: backend,
		now:     time.Now,
	}
}

// Backend names the driver behind the store ("sqlite" or "postgres").
func (s *SQLStore) Backend() string {
	return s.backend
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	query, args, err := s.builder.Select("version").From(versionTable).Limit(1).ToSql()
	if err != nil {
		return fmt.Errorf("build version query: %w", err)
	}
	var version int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		insert, insertArgs, buildErr := s.builder.Insert(versionTable).Columns("version").Values(schemaVersion).ToSql()
		if buildErr != nil {
			return fmt.Errorf("build version insert: %w", buildErr)
		}
		if _, execErr := s.db.ExecContext(ctx, insert, insertArgs...); execErr != nil {
			return fmt.Errorf("record schema version: %w", execErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the state database to reset)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx = ensureContext(ctx)
	query, args, err := s.builder.Select("state_value").From(stateTable).Where(sq.Eq{"state_key": key}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build get: %w", err)
	}
	var value string
	err = retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	ctx = ensureContext(ctx)
	query, args, err := s.builder.Insert(stateTable).
		Columns("state_key", "state_value", "updated_at").
		Values(key, value, s.now().UTC().UnixMilli()).
		Suffix("ON CONFLICT (state_key) DO UPDATE SET state_value = excluded.state_value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set: %w", err)
	}
	if err := s.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	ctx = ensureContext(ctx)
	query, args, err := s.builder.Delete(stateTable).Where(sq.Eq{"state_key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if err := s.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// List uses LIKE to narrow the scan and then re-checks the prefix exactly,
// since key prefixes routinely contain the '_' wildcard.
func (s *SQLStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	ctx = ensureContext(ctx)
	selectBuilder := s.builder.Select("state_key", "state_value", "updated_at").From(stateTable).OrderBy("state_key")
	if prefix != "" {
		selectBuilder = selectBuilder.Where(sq.Like{"state_key": prefix + "%"})
	}
	query, args, err := selectBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	var entries []Entry
	err = retryOnBusy(ctx, func() error {
		entries = entries[:0]
		rows, queryErr := s.db.QueryContext(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		for rows.Next() {
			var (
				entry   Entry
				updated int64
			)
			if scanErr := rows.Scan(&entry.Key, &entry.Value, &updated); scanErr != nil {
				return scanErr
			}
			if !strings.HasPrefix(entry.Key, prefix) {
				continue
			}
			entry.UpdatedAt = time.UnixMilli(updated).UTC()
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return entries, nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
