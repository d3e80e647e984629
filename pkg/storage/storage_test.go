package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/storage"
)

func TestMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("SetGet", func(t *testing.T) {
		t.Parallel()
		m := storage.NewMemory()
		require.NoError(t, m.Set(ctx, "k", []byte("v")))
		got, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("GetMissing", func(t *testing.T) {
		t.Parallel()
		m := storage.NewMemory()
		_, err := m.Get(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Remove", func(t *testing.T) {
		t.Parallel()
		m := storage.NewMemory()
		require.NoError(t, m.Set(ctx, "k", []byte("v")))
		require.NoError(t, m.Remove(ctx, "k"))
		_, err := m.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("RemoveMissingIsNoop", func(t *testing.T) {
		t.Parallel()
		m := storage.NewMemory()
		assert.NoError(t, m.Remove(ctx, "nope"))
	})

	t.Run("ValuesCopied", func(t *testing.T) {
		t.Parallel()
		m := storage.NewMemory()
		src := []byte("abc")
		require.NoError(t, m.Set(ctx, "k", src))
		src[0] = 'x'
		got, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)

		got[0] = 'y'
		again, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("Snapshot", func(t *testing.T) {
		t.Parallel()
		m := storage.NewMemory()
		require.NoError(t, m.Set(ctx, "a", []byte("1")))
		require.NoError(t, m.Set(ctx, "b", []byte("2")))
		snap := m.Snapshot()
		assert.Len(t, snap, 2)
		assert.Equal(t, []byte("1"), snap["a"])
	})
}
