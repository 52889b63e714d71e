package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/internal/identity/store/storetest"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestMemoryStore(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	// Re-applying is a no-op.
	require.NoError(t, s.ApplyMigrations())

	storetest.SeedAccount(t, s, "mem@example.com")
}

func TestDSN(t *testing.T) {
	t.Parallel()

	require.Equal(t, "file:/tmp/x.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate&_time_format=sqlite&_pragma=journal_mode(WAL)", DSN("/tmp/x.db"))
	require.NotContains(t, DSN(":memory:"), "journal_mode")
	require.Equal(t, "file:custom.db?mode=ro", DSN("file:custom.db?mode=ro"))
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	require.False(t, isUniqueViolation(nil))
	require.True(t, isUniqueViolation(errString("constraint failed: UNIQUE constraint failed: accounts.email (2067)")))
	require.False(t, isUniqueViolation(errString("FOREIGN KEY constraint failed")))
}

type errString string

func (e errString) Error() string { return string(e) }
