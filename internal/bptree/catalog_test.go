package bptree

import (
	"testing"

	"coredb/internal/buffer"
	"coredb/internal/diskio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog() (*buffer.Pool, *Catalog) {
	pool := buffer.NewPool(diskio.NewMemory(), 16, 2, nil)
	return pool, NewCatalog(pool)
}

func TestCatalog_GetMissing_ReturnsNotOK(t *testing.T) {
	_, cat := newTestCatalog()
	_, ok, err := cat.Get("orders")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalog_SetThenGet_RoundTrips(t *testing.T) {
	_, cat := newTestCatalog()
	require.NoError(t, cat.Set("orders", 7))

	id, ok, err := cat.Get("orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), id)
}

func TestCatalog_SetTwice_UpdatesInPlace(t *testing.T) {
	_, cat := newTestCatalog()
	require.NoError(t, cat.Set("orders", 7))
	require.NoError(t, cat.Set("orders", 42))

	id, ok, err := cat.Get("orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(42), id)
}

func TestCatalog_TracksMultipleIndexes(t *testing.T) {
	_, cat := newTestCatalog()
	require.NoError(t, cat.Set("orders", 7))
	require.NoError(t, cat.Set("customers", 11))

	id, ok, err := cat.Get("orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), id)

	id, ok, err = cat.Get("customers")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(11), id)
}

func TestCatalog_Delete_RemovesEntry(t *testing.T) {
	_, cat := newTestCatalog()
	require.NoError(t, cat.Set("orders", 7))
	require.NoError(t, cat.Delete("orders"))

	_, ok, err := cat.Get("orders")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalog_HeaderPageStartsEmpty(t *testing.T) {
	_, cat := newTestCatalog()
	m, err := cat.load()
	require.NoError(t, err)
	assert.Empty(t, m)
}
