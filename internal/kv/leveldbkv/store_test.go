package leveldbkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zkfold/internal/kv"
	"github.com/roach88/zkfold/internal/kv/kvtest"
)

func TestContractMem(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store { return NewMem() })
}

func TestContractGoLevelDB(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := Open("state", t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestEmptyValueIsNotMissing(t *testing.T) {
	s := NewMem()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "app", []byte("flag"), nil))

	v, err := s.Get(ctx, "app", []byte("flag"))
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = s.Get(ctx, "app", []byte("other"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}
