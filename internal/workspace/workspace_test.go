package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasure(t *testing.T) {
	assert.Equal(t, Stats{}, Measure(""))
	assert.Equal(t, Stats{Size: 5, LineCount: 1}, Measure("hello"))
	assert.Equal(t, Stats{Size: 12, LineCount: 2}, Measure("hello\nworld\n"))
	assert.Equal(t, Stats{Size: 11, LineCount: 2}, Measure("hello\nworld"))
}

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Read(ctx, "ws-1")
	assert.ErrorIs(t, err, ErrNotFound)

	wrote, err := store.WriteIfNonEmpty(ctx, "ws-1", "solution v1")
	require.NoError(t, err)
	assert.True(t, wrote)

	content, err := store.Read(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "solution v1", content)

	// Blank content never clobbers what is there.
	wrote, err = store.WriteIfNonEmpty(ctx, "ws-1", "  \n\t")
	require.NoError(t, err)
	assert.False(t, wrote)
	content, err = store.Read(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "solution v1", content)

	wrote, err = store.WriteIfNonEmpty(ctx, "ws-1", "solution v2")
	require.NoError(t, err)
	assert.True(t, wrote)
	content, err = store.Read(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "solution v2", content)

	require.NoError(t, store.Remove(ctx, "ws-1"))
	_, err = store.Read(ctx, "ws-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Removing a missing ref is not an error.
	require.NoError(t, store.Remove(ctx, "ws-1"))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestFSStore(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, store)
}

func TestFSStoreRefsCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	wrote, err := store.WriteIfNonEmpty(ctx, "../escape", "content")
	require.NoError(t, err)
	assert.True(t, wrote)

	// The artifact lands inside the root under the base name.
	content, err := store.Read(ctx, "escape")
	require.NoError(t, err)
	assert.Equal(t, "content", content)
}
