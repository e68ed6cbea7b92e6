// Package bptree implements a crabbing/lock-coupling B+Tree: concurrent
// point search, range iteration, and two-phase insert/delete over pages
// obtained from a buffer.Pool, latching each page's own buffer.Frame.Latch
// rather than a single pool-wide lock.
package bptree

import (
	"sync"

	"coredb/internal/assert"
	"coredb/internal/buffer"
	"coredb/internal/page"
)

// Tree is a concurrent B+Tree, empty when rootPageID is page.InvalidID.
// The root latch guards root_page_id itself, distinct from the per-page
// content latches taken while crabbing.
type Tree struct {
	pool        *buffer.Pool
	leafMax     int
	internalMax int

	rootLatch  sync.RWMutex
	rootPageID uint32

	catalog     *Catalog
	catalogName string
}

// New creates an empty tree; the first Insert allocates its root as a bare
// leaf page.
func New(pool *buffer.Pool, leafMax, internalMax int) *Tree {
	return &Tree{pool: pool, leafMax: leafMax, internalMax: internalMax, rootPageID: page.InvalidID}
}

// Open reconstructs a tree whose root already exists on disk, e.g. from a
// Catalog lookup.
func Open(pool *buffer.Pool, rootPageID uint32, leafMax, internalMax int) *Tree {
	return &Tree{pool: pool, leafMax: leafMax, internalMax: internalMax, rootPageID: rootPageID}
}

func (t *Tree) RootPageID() uint32 {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootPageID
}

func (t *Tree) IsEmpty() bool {
	return t.RootPageID() == page.InvalidID
}

// TrackInCatalog registers this tree under name in cat and keeps the
// catalog's root_page_id entry updated on every subsequent root change.
func (t *Tree) TrackInCatalog(cat *Catalog, name string) error {
	t.catalog, t.catalogName = cat, name
	return cat.Set(name, t.RootPageID())
}

// syncCatalog must be called after rootPageID has been updated, while the
// caller still knows the new value; it is a best-effort mirror and panics
// on failure since an un-persisted root change would corrupt the tree's
// durability contract.
func (t *Tree) syncCatalog() {
	if t.catalog == nil {
		return
	}
	err := t.catalog.Set(t.catalogName, t.rootPageID)
	assert.That(err == nil, "bptree: catalog sync for %q: %v", t.catalogName, err)
}

func (t *Tree) leafMin() int     { return (t.leafMax + 1) / 2 }
func (t *Tree) internalMin() int { return (t.internalMax + 1) / 2 }

func typeOf(f *buffer.Frame) page.Type {
	return page.New(f.Data).Type()
}

// pathEntry is one write-latched rung of the crabbing descent kept on the
// stack until it is proven safe to release.
type pathEntry struct {
	frame *buffer.Frame
	id    uint32
}

// Get performs a point lookup, crabbing down under read latches and
// releasing each parent as soon as the child's latch is held.
func (t *Tree) Get(key page.Key) (page.Value, bool) {
	if t.IsEmpty() {
		return 0, false
	}

	t.rootLatch.RLock()
	rootID := t.rootPageID
	frame, err := t.pool.FetchPage(rootID)
	assert.That(err == nil, "bptree: fetch root %d: %v", rootID, err)
	frame.Latch.RLock()
	t.rootLatch.RUnlock()

	cur, curID := frame, rootID
	for {
		if typeOf(cur) == page.TypeLeaf {
			lp := page.AsLeaf(cur.Data)
			idx, found := lp.Search(key)
			var val page.Value
			if found {
				val = lp.ValueAt(idx)
			}
			cur.Latch.RUnlock()
			t.pool.UnpinPage(curID, false)
			return val, found
		}

		ip := page.AsInternal(cur.Data)
		childID := ip.ChildAt(ip.Search(key))
		childFrame, err := t.pool.FetchPage(childID)
		assert.That(err == nil, "bptree: fetch child %d: %v", childID, err)
		childFrame.Latch.RLock()
		cur.Latch.RUnlock()
		t.pool.UnpinPage(curID, false)
		cur, curID = childFrame, childID
	}
}

// Insert adds (key, value), returning false if key already exists.
func (t *Tree) Insert(key page.Key, value page.Value) bool {
	t.rootLatch.Lock()
	if t.rootPageID == page.InvalidID {
		f, err := t.pool.NewPage()
		assert.That(err == nil, "bptree: allocate root leaf: %v", err)
		lp := page.InitLeaf(f.Data, f.PageID(), page.InvalidID, t.leafMax)
		lp.Insert(key, value)
		t.rootPageID = f.PageID()
		t.syncCatalog()
		t.rootLatch.Unlock()
		t.pool.UnpinPage(f.PageID(), true)
		return true
	}
	t.rootLatch.Unlock()

	switch t.insertOptimistic(key, value) {
	case attemptInserted:
		return true
	case attemptDuplicate:
		return false
	default:
		return t.insertPessimistic(key, value)
	}
}

type attemptResult int

const (
	attemptInserted attemptResult = iota
	attemptDuplicate
	attemptRetry
)

// isSafeForInsert reports whether f can absorb one more entry without
// reaching its split threshold. Both page kinds are allocated with one slot
// of physical headroom beyond this threshold, so the insert that proves a
// node unsafe can still always be performed before the node is split.
func (t *Tree) isSafeForInsert(f *buffer.Frame) bool {
	if typeOf(f) == page.TypeLeaf {
		return page.AsLeaf(f.Data).Size() < t.leafMax-1
	}
	return page.AsInternal(f.Data).Size() < t.internalMax
}

// insertOptimistic crabs down under read latches, taking a write latch only
// on the leaf; if the leaf can absorb the insert without reaching the split
// threshold it commits directly, otherwise it backs off for the pessimistic
// pass.
func (t *Tree) insertOptimistic(key page.Key, value page.Value) attemptResult {
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

	cur, curID := frame, rootID
	for {
		if typeOf(cur) == page.TypeLeaf {
			lp := page.AsLeaf(cur.Data)
			if _, found := lp.Search(key); found {
				cur.Latch.Unlock()
				t.pool.UnpinPage(curID, false)
				return attemptDuplicate
			}
			if lp.Size() < t.leafMax-1 {
				ok := lp.Insert(key, value)
				assert.That(ok, "bptree: optimistic insert rejected by a leaf proven safe")
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
		cur, curID = childFrame, childID
	}
}

// insertPessimistic acquires write latches top-down, releasing ancestors as
// soon as a safe descendant is found, then splits bottom-up as needed.
func (t *Tree) insertPessimistic(key page.Key, value page.Value) bool {
	t.rootLatch.Lock()
	rootLatchHeld := true
	rootID := t.rootPageID
	rootFrame, err := t.pool.FetchPage(rootID)
	assert.That(err == nil, "bptree: fetch root %d: %v", rootID, err)
	rootFrame.Latch.Lock()

	stack := []pathEntry{{rootFrame, rootID}}
	if t.isSafeForInsert(rootFrame) {
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

		if t.isSafeForInsert(childFrame) {
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

	if _, found := leaf.Search(key); found {
		t.unwindStack(stack, rootLatchHeld)
		return false
	}

	if leaf.Size() < t.leafMax-1 {
		ok := leaf.Insert(key, value)
		assert.That(ok, "bptree: pessimistic insert rejected by a leaf proven safe")
		t.unwindInsertStack(stack, rootLatchHeld)
		return true
	}

	ok := leaf.Insert(key, value)
	assert.That(ok, "bptree: leaf insert before split must succeed (capacity leafMax)")
	t.splitLeafAndPropagate(stack[:len(stack)-1], rootLatchHeld, leafEntry)
	return true
}

func (t *Tree) unwindStack(stack []pathEntry, rootLatchHeld bool) {
	for _, e := range stack {
		e.frame.Latch.Unlock()
		t.pool.UnpinPage(e.id, false)
	}
	if rootLatchHeld {
		t.rootLatch.Unlock()
	}
}

func (t *Tree) unwindInsertStack(stack []pathEntry, rootLatchHeld bool) {
	n := len(stack)
	for i, e := range stack {
		e.frame.Latch.Unlock()
		t.pool.UnpinPage(e.id, i == n-1)
	}
	if rootLatchHeld {
		t.rootLatch.Unlock()
	}
}

func (t *Tree) reparent(childID, parentID uint32) {
	f, err := t.pool.FetchPage(childID)
	assert.That(err == nil, "bptree: reparent fetch %d: %v", childID, err)
	f.Latch.Lock()
	page.New(f.Data).SetParentID(parentID)
	f.Latch.Unlock()
	t.pool.UnpinPage(childID, true)
}

func (t *Tree) reparentAllChildren(n page.InternalPage) {
	for i := 0; i < n.Size(); i++ {
		t.reparent(n.ChildAt(i), n.PageID())
	}
}

// splitLeafAndPropagate splits the full leaf at leafEntry, then walks the
// remaining ancestor stack (already write-latched, since the leaf was
// unsafe) bottom-up inserting the new separator, splitting further internal
// nodes as needed and finally growing a new root if the split reaches the
// top.
func (t *Tree) splitLeafAndPropagate(ancestors []pathEntry, rootLatchHeld bool, leafEntry pathEntry) {
	leaf := page.AsLeaf(leafEntry.frame.Data)

	siblingFrame, err := t.pool.NewPage()
	assert.That(err == nil, "bptree: allocate leaf sibling: %v", err)
	sibling := page.InitLeaf(siblingFrame.Data, siblingFrame.PageID(), leaf.ParentID(), t.leafMax)

	leaf.MoveHalfTo(sibling)
	// for an odd entry count the left leaf keeps the larger half.
	if sibling.Size() > leaf.Size() {
		k, v := sibling.KeyAt(0), sibling.ValueAt(0)
		sibling.RemoveAt(0)
		leaf.InsertAt(leaf.Size(), k, v)
	}
	sibling.SetNextLeafID(leaf.NextLeafID())
	leaf.SetNextLeafID(sibling.PageID())
	upKey := sibling.KeyAt(0)

	leafEntry.frame.Latch.Unlock()
	t.pool.UnpinPage(leafEntry.id, true)
	t.pool.UnpinPage(sibling.PageID(), true)

	t.propagateSplit(ancestors, rootLatchHeld, leafEntry.id, sibling.PageID(), upKey)
}

// propagateSplit inserts (upKey, rightID) into the parent on top of the
// ancestor stack, splitting that parent too if it is full, continuing
// upward, and finally growing a new root when the stack is exhausted.
func (t *Tree) propagateSplit(ancestors []pathEntry, rootLatchHeld bool, leftID, rightID uint32, upKey page.Key) {
	for {
		if len(ancestors) == 0 {
			newRootFrame, err := t.pool.NewPage()
			assert.That(err == nil, "bptree: allocate new root: %v", err)
			newRoot := page.InitInternal(newRootFrame.Data, newRootFrame.PageID(), page.InvalidID, t.internalMax+1)
			newRoot.SetFirstChild(leftID)
			ok := newRoot.Insert(upKey, rightID)
			assert.That(ok, "bptree: new root insert must succeed")

			t.reparent(leftID, newRootFrame.PageID())
			t.reparent(rightID, newRootFrame.PageID())

			t.rootPageID = newRootFrame.PageID()
			t.syncCatalog()
			if rootLatchHeld {
				t.rootLatch.Unlock()
			}
			t.pool.UnpinPage(newRootFrame.PageID(), true)
			return
		}

		parentEntry := ancestors[len(ancestors)-1]
		ancestors = ancestors[:len(ancestors)-1]
		parent := page.AsInternal(parentEntry.frame.Data)

		if parent.Size() < t.internalMax {
			ok := parent.Insert(upKey, rightID)
			assert.That(ok, "bptree: parent insert after split must succeed")
			t.reparent(rightID, parentEntry.id)
			parentEntry.frame.Latch.Unlock()
			t.pool.UnpinPage(parentEntry.id, true)
			if rootLatchHeld && len(ancestors) == 0 {
				t.rootLatch.Unlock()
			}
			return
		}

		ok := parent.Insert(upKey, rightID)
		assert.That(ok, "bptree: parent overflow insert must succeed (capacity internalMax)")
		t.reparent(rightID, parentEntry.id)

		siblingFrame, err := t.pool.NewPage()
		assert.That(err == nil, "bptree: allocate internal sibling: %v", err)
		sibling := page.InitInternal(siblingFrame.Data, siblingFrame.PageID(), parent.ParentID(), t.internalMax+1)
		medianKey := parent.MoveHalfTo(sibling)
		t.reparentAllChildren(sibling)

		parentEntry.frame.Latch.Unlock()
		t.pool.UnpinPage(parentEntry.id, true)
		t.pool.UnpinPage(sibling.PageID(), true)

		leftID, rightID, upKey = parentEntry.id, sibling.PageID(), medianKey
	}
}
