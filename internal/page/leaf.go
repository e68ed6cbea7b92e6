package page

import (
	"encoding/binary"

	"coredb/internal/assert"
)

// leaf header adds next_leaf_id:u32 right after the common header.
const (
	offNextLeafID = headerSize
	leafEntriesOff = headerSize + 4
	leafEntrySize  = 16 // key:8 + value:8
)

// LeafPage is a B+Tree leaf: an ordered sequence of (key, value) entries
// plus a forward link to the next leaf for range iteration.
type LeafPage struct {
	Page
}

func InitLeaf(data []byte, pageID, parentID uint32, maxSize int) LeafPage {
	p := New(data)
	p.setCommonHeader(TypeLeaf, maxSize, pageID, parentID)
	l := LeafPage{p}
	l.SetNextLeafID(InvalidID)
	return l
}

func AsLeaf(data []byte) LeafPage {
	p := New(data)
	assert.That(p.IsLeaf(), "page: expected a leaf page, got type %v", p.Type())
	return LeafPage{p}
}

func (l LeafPage) NextLeafID() uint32 {
	return binary.BigEndian.Uint32(l.Data[offNextLeafID:])
}

func (l LeafPage) SetNextLeafID(id uint32) {
	binary.BigEndian.PutUint32(l.Data[offNextLeafID:], id)
}

func (l LeafPage) entryOffset(i int) int { return leafEntriesOff + i*leafEntrySize }

func (l LeafPage) KeyAt(i int) Key {
	off := l.entryOffset(i)
	return Key(binary.BigEndian.Uint64(l.Data[off:]))
}

func (l LeafPage) ValueAt(i int) Value {
	off := l.entryOffset(i)
	return Value(binary.BigEndian.Uint64(l.Data[off+8:]))
}

func (l LeafPage) setKeyAt(i int, k Key) {
	off := l.entryOffset(i)
	binary.BigEndian.PutUint64(l.Data[off:], uint64(k))
}

func (l LeafPage) setValueAt(i int, v Value) {
	off := l.entryOffset(i)
	binary.BigEndian.PutUint64(l.Data[off+8:], uint64(v))
}

// Search returns the index of key, and whether it was found.
func (l LeafPage) Search(key Key) (idx int, found bool) {
	n := l.Size()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if l.KeyAt(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && l.KeyAt(lo) == key {
		return lo, true
	}
	return lo, false
}

// IterFrom returns the first index with key >= target.
func (l LeafPage) IterFrom(target Key) int {
	idx, _ := l.Search(target)
	return idx
}

// Insert inserts (key, value) in sorted position. Returns false on a
// duplicate key or if the page is already at MaxSize (full-and-must-split).
func (l LeafPage) Insert(key Key, value Value) bool {
	if l.Size() >= l.MaxSize() {
		return false
	}
	idx, found := l.Search(key)
	if found {
		return false
	}

	n := l.Size()
	for i := n; i > idx; i-- {
		l.setKeyAt(i, l.KeyAt(i-1))
		l.setValueAt(i, l.ValueAt(i-1))
	}
	l.setKeyAt(idx, key)
	l.setValueAt(idx, value)
	l.setSize(n + 1)
	return true
}

// Remove deletes key if present, compacting the entry array. Reports
// whether the key was found.
func (l LeafPage) Remove(key Key) bool {
	idx, found := l.Search(key)
	if !found {
		return false
	}
	n := l.Size()
	for i := idx; i < n-1; i++ {
		l.setKeyAt(i, l.KeyAt(i+1))
		l.setValueAt(i, l.ValueAt(i+1))
	}
	l.setSize(n - 1)
	return true
}

// RemoveAt deletes the entry at idx unconditionally, used by the tree layer
// during merge/redistribute.
func (l LeafPage) RemoveAt(idx int) {
	n := l.Size()
	assert.That(idx >= 0 && idx < n, "leaf: RemoveAt index %d out of range [0,%d)", idx, n)
	for i := idx; i < n-1; i++ {
		l.setKeyAt(i, l.KeyAt(i+1))
		l.setValueAt(i, l.ValueAt(i+1))
	}
	l.setSize(n - 1)
}

// InsertAt inserts (key, value) at the given index unconditionally, used
// when redistributing entries between siblings.
func (l LeafPage) InsertAt(idx int, key Key, value Value) {
	n := l.Size()
	assert.That(n < l.MaxSize(), "leaf: InsertAt on a full page")
	for i := n; i > idx; i-- {
		l.setKeyAt(i, l.KeyAt(i-1))
		l.setValueAt(i, l.ValueAt(i-1))
	}
	l.setKeyAt(idx, key)
	l.setValueAt(idx, value)
	l.setSize(n + 1)
}

// MoveHalfTo copies the upper half of l's entries into sibling, used when
// splitting a full leaf.
func (l LeafPage) MoveHalfTo(sibling LeafPage) {
	n := l.Size()
	mid := n / 2
	for i := mid; i < n; i++ {
		sibling.setKeyAt(i-mid, l.KeyAt(i))
		sibling.setValueAt(i-mid, l.ValueAt(i))
	}
	sibling.setSize(n - mid)
	l.setSize(mid)
}

// MoveAllTo appends all of l's entries onto sibling, used when merging.
func (l LeafPage) MoveAllTo(sibling LeafPage) {
	n, sn := l.Size(), sibling.Size()
	for i := 0; i < n; i++ {
		sibling.setKeyAt(sn+i, l.KeyAt(i))
		sibling.setValueAt(sn+i, l.ValueAt(i))
	}
	sibling.setSize(sn + n)
	l.setSize(0)
	sibling.SetNextLeafID(l.NextLeafID())
}

// MaxLeafEntriesThatFit returns the number of leaf entries that fit in a page,
// used by callers choosing a MaxSize parameter.
func MaxLeafEntriesThatFit() int {
	return (Size - leafEntriesOff) / leafEntrySize
}
