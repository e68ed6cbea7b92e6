package page

import (
	"encoding/binary"

	"coredb/internal/assert"
)

const (
	internalEntriesOff = headerSize
	internalEntrySize  = 12 // key:8 + child_id:4
)

// InternalPage is a B+Tree internal node: an ordered sequence of
// (key, child_page_id) pairs where slot 0's key is unused and acts as the
// "-inf" separator. The child at slot i holds keys k with
// key[i] <= k < key[i+1].
type InternalPage struct {
	Page
}

func InitInternal(data []byte, pageID, parentID uint32, maxSize int) InternalPage {
	p := New(data)
	p.setCommonHeader(TypeInternal, maxSize, pageID, parentID)
	return InternalPage{p}
}

func AsInternal(data []byte) InternalPage {
	p := New(data)
	assert.That(p.IsInternal(), "page: expected an internal page, got type %v", p.Type())
	return InternalPage{p}
}

func (n InternalPage) entryOffset(i int) int { return internalEntriesOff + i*internalEntrySize }

func (n InternalPage) KeyAt(i int) Key {
	return Key(binary.BigEndian.Uint64(n.Data[n.entryOffset(i):]))
}

func (n InternalPage) ChildAt(i int) uint32 {
	return binary.BigEndian.Uint32(n.Data[n.entryOffset(i)+8:])
}

func (n InternalPage) setKeyAt(i int, k Key) {
	binary.BigEndian.PutUint64(n.Data[n.entryOffset(i):], uint64(k))
}

func (n InternalPage) setChildAt(i int, childID uint32) {
	binary.BigEndian.PutUint32(n.Data[n.entryOffset(i)+8:], childID)
}

// SetFirstChild sets slot 0's child pointer without disturbing its unused key.
func (n InternalPage) SetFirstChild(childID uint32) {
	if n.Size() == 0 {
		n.setSize(1)
	}
	n.setChildAt(0, childID)
}

// Search returns the index of the rightmost child whose separator is <= key
//: slot 0 always matches since its key is -inf.
func (n InternalPage) Search(key Key) int {
	sz := n.Size()
	lo, hi := 1, sz
	for lo < hi {
		mid := (lo + hi) / 2
		if n.KeyAt(mid) <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// ChildIndex returns the slot index pointing at childID, or -1.
func (n InternalPage) ChildIndex(childID uint32) int {
	for i := 0; i < n.Size(); i++ {
		if n.ChildAt(i) == childID {
			return i
		}
	}
	return -1
}

// SiblingsOf returns the left and right sibling child ids of childID (or
// InvalidID when absent), along with childID's own index.
func (n InternalPage) SiblingsOf(childID uint32) (left, right uint32, idx int) {
	idx = n.ChildIndex(childID)
	left, right = InvalidID, InvalidID
	if idx > 0 {
		left = n.ChildAt(idx - 1)
	}
	if idx >= 0 && idx+1 < n.Size() {
		right = n.ChildAt(idx + 1)
	}
	return
}

// Insert inserts (key, childID) in sorted position by key (slot 0's key is
// never compared against since it is the -inf sentinel).
func (n InternalPage) Insert(key Key, childID uint32) bool {
	if n.Size() >= n.MaxSize() {
		return false
	}
	sz := n.Size()
	idx := sz
	for i := 1; i < sz; i++ {
		if n.KeyAt(i) > key {
			idx = i
			break
		}
	}
	n.InsertAt(idx, key, childID)
	return true
}

// InsertAt inserts (key, childID) at idx unconditionally.
func (n InternalPage) InsertAt(idx int, key Key, childID uint32) {
	sz := n.Size()
	assert.That(sz < n.MaxSize(), "internal: InsertAt on a full page")
	for i := sz; i > idx; i-- {
		n.setKeyAt(i, n.KeyAt(i-1))
		n.setChildAt(i, n.ChildAt(i-1))
	}
	n.setKeyAt(idx, key)
	n.setChildAt(idx, childID)
	n.setSize(sz + 1)
}

// RemoveAt compacts out the entry at idx.
func (n InternalPage) RemoveAt(idx int) {
	sz := n.Size()
	assert.That(idx >= 0 && idx < sz, "internal: RemoveAt index %d out of range [0,%d)", idx, sz)
	for i := idx; i < sz-1; i++ {
		n.setKeyAt(i, n.KeyAt(i+1))
		n.setChildAt(i, n.ChildAt(i+1))
	}
	n.setSize(sz - 1)
}

// SetKeyAt overwrites the separator key at idx, used when a borrow updates
// the parent's separator.
func (n InternalPage) SetKeyAt(idx int, key Key) {
	n.setKeyAt(idx, key)
}

// MoveHalfTo copies the upper half of n's entries to sibling, used when
// splitting a full internal node. The median key becomes the separator the
// caller pushes up; it also stays in sibling's slot 0, where it is unused.
func (n InternalPage) MoveHalfTo(sibling InternalPage) Key {
	sz := n.Size()
	mid := sz / 2
	medianKey := n.KeyAt(mid)
	for i := mid; i < sz; i++ {
		sibling.setKeyAt(i-mid, n.KeyAt(i))
		sibling.setChildAt(i-mid, n.ChildAt(i))
	}
	sibling.setSize(sz - mid)
	n.setSize(mid)
	return medianKey
}

// MoveAllTo appends all of n's entries onto sibling with separatorKey
// becoming sibling's new first real separator (the key demoted from the
// parent during a merge).
func (n InternalPage) MoveAllTo(sibling InternalPage, separatorKey Key) {
	sz, ssz := n.Size(), sibling.Size()
	for i := 0; i < sz; i++ {
		k := n.KeyAt(i)
		if i == 0 {
			k = separatorKey
		}
		sibling.setKeyAt(ssz+i, k)
		sibling.setChildAt(ssz+i, n.ChildAt(i))
	}
	sibling.setSize(ssz + sz)
	n.setSize(0)
}

func MaxInternalEntriesThatFit() int {
	return (Size - internalEntriesOff) / internalEntrySize
}
