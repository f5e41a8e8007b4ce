package testsupport

import (
	"context"
	"testing"

	"voice2action/internal/config"
	"voice2action/internal/statestore"
)

// MustOpenStore opens the configured state store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) statestore.Store {
	t.Helper()

	store, err := statestore.Open(context.Background(), cfg.State.DSN)
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
