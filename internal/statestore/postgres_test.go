package statestore_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"voice2action/internal/statestore"
)

// Runs only when VOICE2ACTION_TEST_POSTGRES_DSN points at a disposable database.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("VOICE2ACTION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICE2ACTION_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := statestore.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	prefix := "test_" + uuid.NewString() + ":"
	require.NoError(t, store.Set(ctx, prefix+"a", "1"))
	require.NoError(t, store.Set(ctx, prefix+"a", "2"))
	value, ok, err := store.Get(ctx, prefix+"a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", value)

	entries, err := store.List(ctx, prefix)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, store.Delete(ctx, prefix+"a"))
}
