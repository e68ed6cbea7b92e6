package bptree

import (
	"sync"
	"testing"

	"coredb/internal/buffer"
	"coredb/internal/diskio"
	"coredb/internal/page"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(leafMax, internalMax int) *Tree {
	pool := buffer.NewPool(diskio.NewMemory(), 64, 2, nil)
	return New(pool, leafMax, internalMax)
}

func collect(t *testing.T, it *Iterator) []page.Key {
	t.Helper()
	var out []page.Key
	for it.Valid() {
		out = append(out, it.Key())
		it.Next()
	}
	it.Close()
	return out
}

func TestTree_GetOnEmptyTree_ReturnsFalse(t *testing.T) {
	tr := newTestTree(3, 3)
	_, found := tr.Get(1)
	assert.False(t, found)
}

func TestTree_InsertThenGet_RoundTrips(t *testing.T) {
	tr := newTestTree(4, 4)
	require.True(t, tr.Insert(10, 100))
	require.True(t, tr.Insert(20, 200))

	v, found := tr.Get(10)
	require.True(t, found)
	assert.Equal(t, page.Value(100), v)

	v, found = tr.Get(20)
	require.True(t, found)
	assert.Equal(t, page.Value(200), v)

	_, found = tr.Get(30)
	assert.False(t, found)
}

func TestTree_InsertDuplicate_Rejected(t *testing.T) {
	tr := newTestTree(4, 4)
	require.True(t, tr.Insert(10, 100))
	assert.False(t, tr.Insert(10, 999))

	v, found := tr.Get(10)
	require.True(t, found)
	assert.Equal(t, page.Value(100), v, "a rejected duplicate insert must not overwrite the existing value")
}

// TestTree_LeafSplit_ScenarioTwo covers an empty tree with leaf_max=3:
// inserting 10, 20, 30 in order splits the third insert into leaves
// [10,20]/[30] under a new internal root separated by 30.
func TestTree_LeafSplit_ScenarioTwo(t *testing.T) {
	tr := newTestTree(3, 3)
	require.True(t, tr.Insert(10, 10))
	require.True(t, tr.Insert(20, 20))
	require.True(t, tr.Insert(30, 30))

	root, err := tr.pool.FetchPage(tr.RootPageID())
	require.NoError(t, err)
	assert.True(t, page.New(root.Data).IsInternal(), "third insert must split the leaf into a new internal root")
	ip := page.AsInternal(root.Data)
	assert.Equal(t, page.Key(30), ip.KeyAt(1))
	tr.pool.UnpinPage(root.PageID(), false)

	keys := collect(t, tr.Iterate())
	assert.Equal(t, []page.Key{10, 20, 30}, keys)
}

func TestTree_Iterate_ReturnsKeysInOrder(t *testing.T) {
	tr := newTestTree(4, 4)
	for _, k := range []page.Key{50, 10, 40, 20, 30} {
		require.True(t, tr.Insert(k, page.Value(k)))
	}

	keys := collect(t, tr.Iterate())
	assert.Equal(t, []page.Key{10, 20, 30, 40, 50}, keys)
}

func TestTree_IterateFrom_SkipsPrecedingKeys(t *testing.T) {
	tr := newTestTree(4, 4)
	for _, k := range []page.Key{10, 20, 30, 40, 50} {
		require.True(t, tr.Insert(k, page.Value(k)))
	}

	keys := collect(t, tr.IterateFrom(25))
	assert.Equal(t, []page.Key{30, 40, 50}, keys)
}

func TestTree_ManyInserts_PropagateAcrossMultipleSplits(t *testing.T) {
	tr := newTestTree(3, 3)
	n := 40
	for i := 0; i < n; i++ {
		require.True(t, tr.Insert(page.Key(i), page.Value(i)), "insert %d", i)
	}

	var want []page.Key
	for i := 0; i < n; i++ {
		want = append(want, page.Key(i))
	}
	assert.Equal(t, want, collect(t, tr.Iterate()))

	for i := 0; i < n; i++ {
		v, found := tr.Get(page.Key(i))
		require.True(t, found, "key %d", i)
		assert.Equal(t, page.Value(i), v)
	}
}

func TestTree_TrackInCatalog_PersistsRootAcrossSplits(t *testing.T) {
	pool := buffer.NewPool(diskio.NewMemory(), 64, 2, nil)
	tr := New(pool, 3, 3)
	cat := NewCatalog(pool)
	require.NoError(t, tr.TrackInCatalog(cat, "idx"))

	require.True(t, tr.Insert(10, 10))
	require.True(t, tr.Insert(20, 20))
	require.True(t, tr.Insert(30, 30)) // splits, root changes

	id, ok, err := cat.Get("idx")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tr.RootPageID(), id)
}

// TestTree_ConcurrentInsertsAndReads exercises the latch-crabbing protocol
// under real concurrency: writers racing through the optimistic/pessimistic
// split path while readers crab down under read latches.
func TestTree_ConcurrentInsertsAndReads(t *testing.T) {
	tr := newTestTree(4, 4)
	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				k := page.Key(w*perWriter + i)
				tr.Insert(k, page.Value(k))
			}
		}(w)
	}

	stop := make(chan struct{})
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
				tr.Get(page.Key(0))
				collect(t, tr.Iterate())
			}
		}
	}()

	wg.Wait()
	close(stop)
	readerWG.Wait()

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			k := page.Key(w*perWriter + i)
			v, found := tr.Get(k)
			require.True(t, found, "key %d", k)
			assert.Equal(t, page.Value(k), v)
		}
	}

	keys := collect(t, tr.Iterate())
	require.Len(t, keys, writers*perWriter)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i], "iteration must yield strictly increasing keys")
	}
}
