package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuf() []byte { return make([]byte, Size) }

func TestLeafPage_InsertKeepsKeysIncreasing(t *testing.T) {
	l := InitLeaf(newBuf(), 1, InvalidID, 4)
	require.True(t, l.Insert(20, Value(200)))
	require.True(t, l.Insert(10, Value(100)))
	require.True(t, l.Insert(30, Value(300)))

	assert.Equal(t, 3, l.Size())
	assert.Equal(t, Key(10), l.KeyAt(0))
	assert.Equal(t, Key(20), l.KeyAt(1))
	assert.Equal(t, Key(30), l.KeyAt(2))
}

func TestLeafPage_Insert_RejectsDuplicateAndFull(t *testing.T) {
	l := InitLeaf(newBuf(), 1, InvalidID, 2)
	require.True(t, l.Insert(10, Value(1)))
	assert.False(t, l.Insert(10, Value(2)), "duplicate key must be rejected")

	require.True(t, l.Insert(20, Value(2)))
	assert.False(t, l.Insert(30, Value(3)), "full page must reject insert")
}

func TestLeafPage_Search(t *testing.T) {
	l := InitLeaf(newBuf(), 1, InvalidID, 8)
	for _, k := range []Key{10, 20, 30, 40} {
		require.True(t, l.Insert(k, Value(k)))
	}

	idx, found := l.Search(20)
	assert.True(t, found)
	assert.Equal(t, 1, idx)

	idx, found = l.Search(25)
	assert.False(t, found)
	assert.Equal(t, 2, idx, "IterFrom(25) should land before 30")
}

func TestLeafPage_Remove(t *testing.T) {
	l := InitLeaf(newBuf(), 1, InvalidID, 8)
	for _, k := range []Key{10, 20, 30} {
		require.True(t, l.Insert(k, Value(k)))
	}

	assert.True(t, l.Remove(20))
	assert.False(t, l.Remove(20), "removing a missing key reports false, no error")
	assert.Equal(t, 2, l.Size())
	assert.Equal(t, Key(10), l.KeyAt(0))
	assert.Equal(t, Key(30), l.KeyAt(1))
}

func TestLeafPage_MoveHalfTo_Splits(t *testing.T) {
	l := InitLeaf(newBuf(), 1, InvalidID, 4)
	for _, k := range []Key{10, 20, 30} {
		require.True(t, l.Insert(k, Value(k)))
	}
	sibling := InitLeaf(newBuf(), 2, InvalidID, 4)
	l.MoveHalfTo(sibling)

	assert.Equal(t, 1, l.Size())
	assert.Equal(t, 2, sibling.Size())
	assert.Equal(t, Key(10), l.KeyAt(0))
	assert.Equal(t, Key(20), sibling.KeyAt(0))
	assert.Equal(t, Key(30), sibling.KeyAt(1))
}

func TestInternalPage_SearchFindsRightmostSeparatorLessOrEqual(t *testing.T) {
	n := InitInternal(newBuf(), 1, InvalidID, 8)
	n.SetFirstChild(100)
	require.True(t, n.Insert(30, 200))
	require.True(t, n.Insert(60, 300))

	assert.Equal(t, 0, n.Search(10))
	assert.Equal(t, 0, n.Search(29))
	assert.Equal(t, 1, n.Search(30))
	assert.Equal(t, 1, n.Search(59))
	assert.Equal(t, 2, n.Search(60))
	assert.Equal(t, 2, n.Search(1000))
}

func TestInternalPage_SiblingsOf(t *testing.T) {
	n := InitInternal(newBuf(), 1, InvalidID, 8)
	n.SetFirstChild(100)
	require.True(t, n.Insert(30, 200))
	require.True(t, n.Insert(60, 300))

	left, right, idx := n.SiblingsOf(200)
	assert.Equal(t, 1, idx)
	assert.Equal(t, uint32(100), left)
	assert.Equal(t, uint32(300), right)

	left, right, _ = n.SiblingsOf(100)
	assert.Equal(t, InvalidID, left)
	assert.Equal(t, uint32(200), right)
}

func TestInternalPage_RoundTripHeaderFields(t *testing.T) {
	n := InitInternal(newBuf(), 7, 3, 16)
	assert.Equal(t, uint32(7), n.PageID())
	assert.Equal(t, uint32(3), n.ParentID())
	assert.Equal(t, 16, n.MaxSize())
	assert.True(t, n.IsInternal())
	assert.False(t, n.IsLeaf())
}
