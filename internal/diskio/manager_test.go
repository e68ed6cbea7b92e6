package diskio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	id, err := uuid.NewUUID()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), id.String()+".coredb")
	return path
}

func TestFileManager_AllocatePage_IsMonotonic(t *testing.T) {
	m, err := Open(tempDBPath(t))
	require.NoError(t, err)
	defer m.Close()

	first := m.AllocatePage()
	second := m.AllocatePage()
	third := m.AllocatePage()

	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestFileManager_WriteThenRead_RoundTrips(t *testing.T) {
	m, err := Open(tempDBPath(t))
	require.NoError(t, err)
	defer m.Close()

	id := m.AllocatePage()
	want := make([]byte, PageSize)
	copy(want, []byte("hello page"))
	require.NoError(t, m.WritePage(id, want))

	got := make([]byte, PageSize)
	require.NoError(t, m.ReadPage(id, got))
	assert.Equal(t, want, got)
}

func TestFileManager_ReadingUnwrittenPage_ReturnsZeroedBuffer(t *testing.T) {
	m, err := Open(tempDBPath(t))
	require.NoError(t, err)
	defer m.Close()

	id := m.AllocatePage()
	got := make([]byte, PageSize)
	require.NoError(t, m.ReadPage(id, got))

	for _, b := range got {
		assert.Zero(t, b)
	}
}

func TestFileManager_ReopeningExistingFile_ContinuesPageIDsPastSize(t *testing.T) {
	path := tempDBPath(t)
	m, err := Open(path)
	require.NoError(t, err)
	id := m.AllocatePage()
	require.NoError(t, m.WritePage(id, make([]byte, PageSize)))
	require.NoError(t, m.Close())

	m2, err := Open(path)
	require.NoError(t, err)
	defer m2.Close()
	next := m2.AllocatePage()
	assert.Greater(t, next, id)
}

func TestMemManager_RoundTrips(t *testing.T) {
	m := NewMemory()
	id := m.AllocatePage()
	want := make([]byte, PageSize)
	copy(want, []byte("in memory"))
	require.NoError(t, m.WritePage(id, want))

	got := make([]byte, PageSize)
	require.NoError(t, m.ReadPage(id, got))
	assert.Equal(t, want, got)
}

func TestOpen_InvalidPath_ReturnsError(t *testing.T) {
	// ensures Open surfaces a real error instead of panicking on a bad path.
	_, err := Open(filepath.Join(string([]byte{0}), "invalid"))
	assert.Error(t, err)
	_ = os.RemoveAll
}
