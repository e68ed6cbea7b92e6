package bptree

import (
	"coredb/internal/assert"
	"coredb/internal/buffer"
	"coredb/internal/page"
)

// Iterator walks leaves in key order via next_leaf_id, pinning the current
// leaf and unpinning the previous one on each advance, and unpinning on
// Close() or exhaustion.
type Iterator struct {
	tree   *Tree
	frame  *buffer.Frame
	leaf   page.LeafPage
	idx    int
	closed bool
}

// Iterate returns an iterator positioned at the tree's smallest key.
func (t *Tree) Iterate() *Iterator {
	return t.iterateFrom(nil)
}

// IterateFrom returns an iterator positioned at the first key >= key.
func (t *Tree) IterateFrom(key page.Key) *Iterator {
	return t.iterateFrom(&key)
}

func (t *Tree) iterateFrom(key *page.Key) *Iterator {
	if t.IsEmpty() {
		return &Iterator{tree: t, closed: true}
	}

	t.rootLatch.RLock()
	curID := t.rootPageID
	frame, err := t.pool.FetchPage(curID)
	assert.That(err == nil, "bptree: fetch root %d: %v", curID, err)
	frame.Latch.RLock()
	t.rootLatch.RUnlock()

	for typeOf(frame) != page.TypeLeaf {
		ip := page.AsInternal(frame.Data)
		var childID uint32
		if key != nil {
			childID = ip.ChildAt(ip.Search(*key))
		} else {
			childID = ip.ChildAt(0)
		}
		childFrame, err := t.pool.FetchPage(childID)
		assert.That(err == nil, "bptree: fetch child %d: %v", childID, err)
		childFrame.Latch.RLock()
		frame.Latch.RUnlock()
		t.pool.UnpinPage(curID, false)
		frame, curID = childFrame, childID
	}

	leaf := page.AsLeaf(frame.Data)
	idx := 0
	if key != nil {
		idx = leaf.IterFrom(*key)
	}
	it := &Iterator{tree: t, frame: frame, leaf: leaf, idx: idx}
	it.skipToValid()
	return it
}

// skipToValid advances across empty/exhausted leaves, unpinning each one
// behind it, until a real entry is found or the tree is exhausted.
func (it *Iterator) skipToValid() {
	for !it.closed && it.idx >= it.leaf.Size() {
		nextID := it.leaf.NextLeafID()
		curID := it.leaf.PageID()
		it.frame.Latch.RUnlock()
		it.tree.pool.UnpinPage(curID, false)

		if nextID == page.InvalidID {
			it.frame = nil
			it.closed = true
			return
		}

		nf, err := it.tree.pool.FetchPage(nextID)
		assert.That(err == nil, "bptree: fetch next leaf %d: %v", nextID, err)
		nf.Latch.RLock()
		it.frame = nf
		it.leaf = page.AsLeaf(nf.Data)
		it.idx = 0
	}
}

// Valid reports whether Key/Value currently point at a real entry.
func (it *Iterator) Valid() bool { return !it.closed }

func (it *Iterator) Key() page.Key     { return it.leaf.KeyAt(it.idx) }
func (it *Iterator) Value() page.Value { return it.leaf.ValueAt(it.idx) }

// Next advances to the following entry, unpinning leaves left behind.
func (it *Iterator) Next() {
	if it.closed {
		return
	}
	it.idx++
	it.skipToValid()
}

// Close releases the iterator's current leaf pin; safe to call multiple
// times or after exhaustion.
func (it *Iterator) Close() {
	if it.closed || it.frame == nil {
		return
	}
	it.frame.Latch.RUnlock()
	it.tree.pool.UnpinPage(it.leaf.PageID(), false)
	it.closed = true
	it.frame = nil
}
