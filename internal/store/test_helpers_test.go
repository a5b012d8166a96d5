package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/kv/sqlitekv"
)

// createTestStore opens a Store over a fresh SQLite file.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := sqlitekv.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	s := New(backend)
	t.Cleanup(func() { s.Close() })
	return s
}
