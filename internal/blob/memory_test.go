package blob

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casthq/shophand/internal/core"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	payload := bytes.Repeat([]byte(`{"id":1}`), 1000)
	require.NoError(t, store.Put(ctx, "payloads/job-1-aa", payload))

	got, err := store.Get(ctx, "payloads/job-1-aa")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Mutating the returned slice must not corrupt the stored copy.
	got[0] = 'X'
	again, err := store.Get(ctx, "payloads/job-1-aa")
	require.NoError(t, err)
	assert.Equal(t, payload, again)
}

func TestMemoryStoreMissingKey(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "payloads/absent")
	assert.ErrorIs(t, err, core.ErrBlobNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "a", []byte("x")))
	require.NoError(t, store.Delete(ctx, "a"))
	assert.Equal(t, 0, store.Len())

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, core.ErrBlobNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, store.Delete(ctx, "a"))
}
