package replacer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplacer_Evict_PrefersNewListOverCacheList(t *testing.T) {
	r := New(5, 2)

	// frame 1: two accesses -> promoted to cache list.
	r.RecordAccess(1)
	r.SetEvictable(1, true)
	r.RecordAccess(1)

	// frame 2: one access -> stays in new list (access_count < k).
	r.RecordAccess(2)
	r.SetEvictable(2, true)

	id, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, 2, id, "frame with fewer than k accesses is evicted before any cache-list frame")
}

func TestReplacer_Evict_CacheListPicksOldestKthAccess(t *testing.T) {
	r := New(5, 2)

	for _, f := range []int{1, 2, 3} {
		r.RecordAccess(f)
		r.RecordAccess(f)
		r.SetEvictable(f, true)
	}
	// give frame 2 a fresh access so its kth-most-recent moves forward.
	r.RecordAccess(2)

	id, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, 1, id, "frame 1 has the oldest kth-most-recent access among fully-tracked frames")
}

func TestReplacer_SetEvictable_RequiresAtLeastOneAccess(t *testing.T) {
	r := New(5, 2)
	r.SetEvictable(1, true)
	assert.Equal(t, 0, r.Size(), "a frame with no recorded access cannot be made evictable")
}

func TestReplacer_PinnedFrameNeverEvicted(t *testing.T) {
	r := New(5, 2)
	r.RecordAccess(1)
	r.RecordAccess(1)
	r.RecordAccess(1)
	// never marked evictable: simulates a pinned frame.

	_, ok := r.Evict()
	assert.False(t, ok)
}

func TestReplacer_Remove_ClearsHistoryAndSize(t *testing.T) {
	r := New(5, 2)
	r.RecordAccess(1)
	r.SetEvictable(1, true)
	assert.Equal(t, 1, r.Size())

	r.Remove(1)
	assert.Equal(t, 0, r.Size())

	r.SetEvictable(1, true)
	assert.Equal(t, 0, r.Size(), "frame history was reset by Remove, so it cannot become evictable without a new access")
}

func TestReplacer_BufferPoolEvictionScenario(t *testing.T) {
	// pool capacity 3, k=2.
	// p1, p2, p3 are modelled here as frames 0, 1, 2.
	// unpin(p1,true), unpin(p2,false), new(p4) evicts p1.
	r := New(3, 2)
	r.RecordAccess(0) // p1 pinned via NewPage
	r.RecordAccess(1) // p2
	r.RecordAccess(2) // p3

	r.SetEvictable(0, true) // unpin p1
	r.SetEvictable(1, true) // unpin p2

	id, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, 0, id, "both p1 and p2 have a single access; FIFO new-list order evicts p1's frame first")
}
