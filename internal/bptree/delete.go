package bptree

import (
	"coredb/internal/assert"
	"coredb/internal/buffer"
	"coredb/internal/page"
)

// Delete removes key, returning false if it was never present.
func (t *Tree) Delete(key page.Key) bool {
	if t.IsEmpty() {
		return false
	}

	switch t.deleteOptimistic(key) {
	case attemptInserted: // reused enum: "committed without structural change"
		return true
	case attemptDuplicate: // reused enum: "key not found"
		return false
	default:
		return t.deletePessimistic(key)
	}
}

func (t *Tree) isSafeForDelete(f *buffer.Frame) bool {
	if typeOf(f) == page.TypeLeaf {
		return page.AsLeaf(f.Data).Size() > t.leafMin()
	}
	return page.AsInternal(f.Data).Size() > t.internalMin()
}

// deleteOptimistic crabs down under read latches, write-latching only the
// leaf; if it is the root, or removing key leaves it above min_size, the
// delete commits directly.
func (t *Tree) deleteOptimistic(key page.Key) attemptResult {
	t.rootLatch.RLock()
	rootID := t.rootPageID
	frame, err := t.pool.FetchPage(rootID)
	assert.That(err == nil, "bptree: fetch root %d: %v", rootID, err)

	if typeOf(frame) == page.TypeLeaf {
		frame.Latch.Lock()
	} else {
		frame.Latch.RLock()
	}
	t.rootLatch.RUnlock()

	cur, curID, isRoot := frame, rootID, true
	for {
		if typeOf(cur) == page.TypeLeaf {
			leaf := page.AsLeaf(cur.Data)
			idx, found := leaf.Search(key)
			if !found {
				cur.Latch.Unlock()
				t.pool.UnpinPage(curID, false)
				return attemptDuplicate
			}
			if isRoot || leaf.Size()-1 > t.leafMin() {
				leaf.RemoveAt(idx)
				cur.Latch.Unlock()
				t.pool.UnpinPage(curID, true)
				return attemptInserted
			}
			cur.Latch.Unlock()
			t.pool.UnpinPage(curID, false)
			return attemptRetry
		}

		ip := page.AsInternal(cur.Data)
		childID := ip.ChildAt(ip.Search(key))
		childFrame, err := t.pool.FetchPage(childID)
		assert.That(err == nil, "bptree: fetch child %d: %v", childID, err)

		if typeOf(childFrame) == page.TypeLeaf {
			childFrame.Latch.Lock()
		} else {
			childFrame.Latch.RLock()
		}
		cur.Latch.RUnlock()
		t.pool.UnpinPage(curID, false)
		cur, curID, isRoot = childFrame, childID, false
	}
}

// deletePessimistic acquires write latches top-down, releasing ancestors as
// soon as a safe descendant is found, then borrows or merges bottom-up on
// underflow.
func (t *Tree) deletePessimistic(key page.Key) bool {
	t.rootLatch.Lock()
	rootLatchHeld := true
	rootID := t.rootPageID
	rootFrame, err := t.pool.FetchPage(rootID)
	assert.That(err == nil, "bptree: fetch root %d: %v", rootID, err)
	rootFrame.Latch.Lock()

	stack := []pathEntry{{rootFrame, rootID}}
	if t.isSafeForDelete(rootFrame) {
		t.rootLatch.Unlock()
		rootLatchHeld = false
	}

	cur := rootFrame
	for typeOf(cur) != page.TypeLeaf {
		ip := page.AsInternal(cur.Data)
		childID := ip.ChildAt(ip.Search(key))
		childFrame, err := t.pool.FetchPage(childID)
		assert.That(err == nil, "bptree: fetch child %d: %v", childID, err)
		childFrame.Latch.Lock()

		if t.isSafeForDelete(childFrame) {
			for _, e := range stack {
				e.frame.Latch.Unlock()
				t.pool.UnpinPage(e.id, false)
			}
			stack = stack[:0]
			if rootLatchHeld {
				t.rootLatch.Unlock()
				rootLatchHeld = false
			}
		}
		stack = append(stack, pathEntry{childFrame, childID})
		cur = childFrame
	}

	leafEntry := stack[len(stack)-1]
	leaf := page.AsLeaf(leafEntry.frame.Data)

	idx, found := leaf.Search(key)
	if !found {
		t.unwindStack(stack, rootLatchHeld)
		return false
	}
	leaf.RemoveAt(idx)

	if len(stack) == 1 || leaf.Size() >= t.leafMin() {
		t.unwindInsertStack(stack, rootLatchHeld)
		return true
	}

	t.resolveUnderflow(stack, rootLatchHeld)
	return true
}

// resolveUnderflow borrows from a sibling if one has spare entries, else
// merges (preferring the left sibling), propagating the resulting parent
// underflow upward and finally lowering the root if it is left with a
// single child.
func (t *Tree) resolveUnderflow(stack []pathEntry, rootLatchHeld bool) {
	for {
		childEntry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(stack) == 0 {
			childEntry.frame.Latch.Unlock()
			t.pool.UnpinPage(childEntry.id, true)
			if rootLatchHeld {
				t.rootLatch.Unlock()
			}
			return
		}

		parentEntry := stack[len(stack)-1]
		parent := page.AsInternal(parentEntry.frame.Data)
		leftID, rightID, idx := parent.SiblingsOf(childEntry.id)

		merged := t.borrowOrMerge(childEntry, parent, leftID, rightID, idx)
		if !merged {
			parentEntry.frame.Latch.Unlock()
			t.pool.UnpinPage(parentEntry.id, true)
			for _, e := range stack[:len(stack)-1] {
				e.frame.Latch.Unlock()
				t.pool.UnpinPage(e.id, false)
			}
			if rootLatchHeld {
				t.rootLatch.Unlock()
			}
			return
		}

		if len(stack) == 1 {
			if parent.Size() == 1 {
				soleChild := parent.ChildAt(0)
				t.rootPageID = soleChild
				t.syncCatalog()
				cf, err := t.pool.FetchPage(soleChild)
				assert.That(err == nil, "bptree: fetch sole child %d: %v", soleChild, err)
				cf.Latch.Lock()
				page.New(cf.Data).SetParentID(page.InvalidID)
				cf.Latch.Unlock()
				t.pool.UnpinPage(soleChild, true)

				oldRootID := parentEntry.id
				parentEntry.frame.Latch.Unlock()
				t.pool.UnpinPage(oldRootID, false)
				if rootLatchHeld {
					t.rootLatch.Unlock()
				}
				err = t.pool.DeletePage(oldRootID)
				assert.That(err == nil, "bptree: delete lowered root %d: %v", oldRootID, err)
				return
			}
			parentEntry.frame.Latch.Unlock()
			t.pool.UnpinPage(parentEntry.id, true)
			if rootLatchHeld {
				t.rootLatch.Unlock()
			}
			return
		}

		if parent.Size() >= t.internalMin() {
			parentEntry.frame.Latch.Unlock()
			t.pool.UnpinPage(parentEntry.id, true)
			for _, e := range stack[:len(stack)-1] {
				e.frame.Latch.Unlock()
				t.pool.UnpinPage(e.id, false)
			}
			if rootLatchHeld {
				t.rootLatch.Unlock()
			}
			return
		}
		// parent itself underflowed: loop again with it as the new child.
	}
}

// borrowOrMerge resolves childEntry's underflow against its siblings,
// returning true iff it was resolved by a merge (which changes parent's
// entry count and may require propagation), false if a borrow sufficed.
func (t *Tree) borrowOrMerge(childEntry pathEntry, parent page.InternalPage, leftID, rightID uint32, idx int) bool {
	if typeOf(childEntry.frame) == page.TypeLeaf {
		return t.borrowOrMergeLeaf(childEntry, parent, leftID, rightID, idx)
	}
	return t.borrowOrMergeInternal(childEntry, parent, leftID, rightID, idx)
}

func (t *Tree) borrowOrMergeLeaf(childEntry pathEntry, parent page.InternalPage, leftID, rightID uint32, idx int) bool {
	leaf := page.AsLeaf(childEntry.frame.Data)

	if leftID != page.InvalidID {
		lf, err := t.pool.FetchPage(leftID)
		assert.That(err == nil, "bptree: fetch left sibling %d: %v", leftID, err)
		lf.Latch.Lock()
		left := page.AsLeaf(lf.Data)
		if left.Size() > t.leafMin() {
			n := left.Size()
			k, v := left.KeyAt(n-1), left.ValueAt(n-1)
			left.RemoveAt(n - 1)
			leaf.InsertAt(0, k, v)
			parent.SetKeyAt(idx, k)
			lf.Latch.Unlock()
			t.pool.UnpinPage(leftID, true)

			childEntry.frame.Latch.Unlock()
			t.pool.UnpinPage(childEntry.id, true)
			return false
		}
		lf.Latch.Unlock()
		t.pool.UnpinPage(leftID, false)
	}

	if rightID != page.InvalidID {
		rf, err := t.pool.FetchPage(rightID)
		assert.That(err == nil, "bptree: fetch right sibling %d: %v", rightID, err)
		rf.Latch.Lock()
		right := page.AsLeaf(rf.Data)
		if right.Size() > t.leafMin() {
			k, v := right.KeyAt(0), right.ValueAt(0)
			right.RemoveAt(0)
			leaf.InsertAt(leaf.Size(), k, v)
			parent.SetKeyAt(idx+1, right.KeyAt(0))
			rf.Latch.Unlock()
			t.pool.UnpinPage(rightID, true)

			childEntry.frame.Latch.Unlock()
			t.pool.UnpinPage(childEntry.id, true)
			return false
		}
		rf.Latch.Unlock()
		t.pool.UnpinPage(rightID, false)
	}

	if leftID != page.InvalidID {
		lf, err := t.pool.FetchPage(leftID)
		assert.That(err == nil, "bptree: fetch left sibling %d: %v", leftID, err)
		lf.Latch.Lock()
		left := page.AsLeaf(lf.Data)
		leaf.MoveAllTo(left)
		parent.RemoveAt(idx)
		lf.Latch.Unlock()
		t.pool.UnpinPage(leftID, true)

		childEntry.frame.Latch.Unlock()
		t.pool.UnpinPage(childEntry.id, false)
		err = t.pool.DeletePage(childEntry.id)
		assert.That(err == nil, "bptree: delete merged leaf %d: %v", childEntry.id, err)
		return true
	}

	rf, err := t.pool.FetchPage(rightID)
	assert.That(err == nil, "bptree: fetch right sibling %d: %v", rightID, err)
	rf.Latch.Lock()
	right := page.AsLeaf(rf.Data)
	right.MoveAllTo(leaf)
	parent.RemoveAt(idx + 1)
	rf.Latch.Unlock()
	t.pool.UnpinPage(rightID, false)
	err = t.pool.DeletePage(rightID)
	assert.That(err == nil, "bptree: delete merged right leaf %d: %v", rightID, err)

	childEntry.frame.Latch.Unlock()
	t.pool.UnpinPage(childEntry.id, true)
	return true
}

func (t *Tree) borrowOrMergeInternal(childEntry pathEntry, parent page.InternalPage, leftID, rightID uint32, idx int) bool {
	child := page.AsInternal(childEntry.frame.Data)

	if leftID != page.InvalidID {
		lf, err := t.pool.FetchPage(leftID)
		assert.That(err == nil, "bptree: fetch left sibling %d: %v", leftID, err)
		lf.Latch.Lock()
		left := page.AsInternal(lf.Data)
		if left.Size() > t.internalMin() {
			n := left.Size()
			borrowed := left.ChildAt(n - 1)
			demoted := parent.KeyAt(idx)

			child.InsertAt(0, demoted, child.ChildAt(0))
			child.SetFirstChild(borrowed)
			parent.SetKeyAt(idx, left.KeyAt(n-1))
			left.RemoveAt(n - 1)

			lf.Latch.Unlock()
			t.pool.UnpinPage(leftID, true)
			t.reparent(borrowed, childEntry.id)

			childEntry.frame.Latch.Unlock()
			t.pool.UnpinPage(childEntry.id, true)
			return false
		}
		lf.Latch.Unlock()
		t.pool.UnpinPage(leftID, false)
	}

	if rightID != page.InvalidID {
		rf, err := t.pool.FetchPage(rightID)
		assert.That(err == nil, "bptree: fetch right sibling %d: %v", rightID, err)
		rf.Latch.Lock()
		right := page.AsInternal(rf.Data)
		if right.Size() > t.internalMin() {
			borrowed := right.ChildAt(0)
			demoted := parent.KeyAt(idx + 1)
			newBoundary := right.KeyAt(1)

			child.Insert(demoted, borrowed)
			right.RemoveAt(0)
			parent.SetKeyAt(idx+1, newBoundary)

			rf.Latch.Unlock()
			t.pool.UnpinPage(rightID, true)
			t.reparent(borrowed, childEntry.id)

			childEntry.frame.Latch.Unlock()
			t.pool.UnpinPage(childEntry.id, true)
			return false
		}
		rf.Latch.Unlock()
		t.pool.UnpinPage(rightID, false)
	}

	if leftID != page.InvalidID {
		lf, err := t.pool.FetchPage(leftID)
		assert.That(err == nil, "bptree: fetch left sibling %d: %v", leftID, err)
		lf.Latch.Lock()
		left := page.AsInternal(lf.Data)
		separator := parent.KeyAt(idx)
		child.MoveAllTo(left, separator)
		t.reparentAllChildren(left)
		lf.Latch.Unlock()
		t.pool.UnpinPage(leftID, true)
		parent.RemoveAt(idx)

		childEntry.frame.Latch.Unlock()
		t.pool.UnpinPage(childEntry.id, false)
		err = t.pool.DeletePage(childEntry.id)
		assert.That(err == nil, "bptree: delete merged internal %d: %v", childEntry.id, err)
		return true
	}

	rf, err := t.pool.FetchPage(rightID)
	assert.That(err == nil, "bptree: fetch right sibling %d: %v", rightID, err)
	rf.Latch.Lock()
	right := page.AsInternal(rf.Data)
	separator := parent.KeyAt(idx + 1)
	right.MoveAllTo(child, separator)
	rf.Latch.Unlock()
	t.pool.UnpinPage(rightID, false)
	t.reparentAllChildren(child)
	parent.RemoveAt(idx + 1)
	err = t.pool.DeletePage(rightID)
	assert.That(err == nil, "bptree: delete merged right internal %d: %v", rightID, err)

	childEntry.frame.Latch.Unlock()
	t.pool.UnpinPage(childEntry.id, true)
	return true
}
