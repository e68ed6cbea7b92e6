package lockmgr

import (
	"sync"

	"coredb/internal/txn"
)

type rowKey struct {
	oid uint64
	rid txn.RID
}

// Manager is the lock manager: per-resource FIFO queues for table and row
// locks, isolation-level enforcement, upgrade handling, and (see
// deadlock.go) background cycle detection.
type Manager struct {
	tableMu     sync.Mutex
	tableQueues map[uint64]*resourceQueue

	rowMu     sync.Mutex
	rowQueues map[rowKey]*resourceQueue

	regMu sync.Mutex
	txns  map[txn.ID]*txn.Transaction

	detector *detector
}

func NewManager() *Manager {
	m := &Manager{
		tableQueues: make(map[uint64]*resourceQueue),
		rowQueues:   make(map[rowKey]*resourceQueue),
		txns:        make(map[txn.ID]*txn.Transaction),
	}
	m.detector = newDetector(m)
	return m
}

func (m *Manager) register(t *txn.Transaction) {
	m.regMu.Lock()
	m.txns[t.ID()] = t
	m.regMu.Unlock()
}

func (m *Manager) getTableQueue(oid uint64) *resourceQueue {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	q, ok := m.tableQueues[oid]
	if !ok {
		q = newResourceQueue()
		m.tableQueues[oid] = q
	}
	return q
}

func (m *Manager) getRowQueue(oid uint64, rid txn.RID) *resourceQueue {
	key := rowKey{oid, rid}
	m.rowMu.Lock()
	defer m.rowMu.Unlock()
	q, ok := m.rowQueues[key]
	if !ok {
		q = newResourceQueue()
		m.rowQueues[key] = q
	}
	return q
}

// checkLockModeLegal enforces the isolation level's lock-mode rules. It
// mutates t's state to Aborted on violation.
func (m *Manager) checkLockModeLegal(t *txn.Transaction, mode txn.LockMode, _ resourceType) error {
	state := t.State()
	switch t.IsolationLevel() {
	case txn.RepeatableRead:
		if state == txn.Shrinking {
			t.SetState(txn.Aborted)
			return &AbortError{t.ID(), LockOnShrinking}
		}
	case txn.ReadCommitted:
		if state == txn.Shrinking && mode != txn.Shared && mode != txn.IntentionShared {
			t.SetState(txn.Aborted)
			return &AbortError{t.ID(), LockOnShrinking}
		}
	case txn.ReadUncommitted:
		if mode == txn.Shared || mode == txn.IntentionShared || mode == txn.SharedIntentionExclusive {
			t.SetState(txn.Aborted)
			return &AbortError{t.ID(), LockSharedOnReadUncommitted}
		}
		if state != txn.Growing {
			t.SetState(txn.Aborted)
			return &AbortError{t.ID(), LockOnShrinking}
		}
	}
	return nil
}

// LockTable acquires mode on table oid for t, blocking until granted,
// aborted by deadlock detection, or rejected outright as a protocol
// violation.
func (m *Manager) LockTable(t *txn.Transaction, mode txn.LockMode, oid uint64) (bool, error) {
	m.register(t)

	if err := m.checkLockModeLegal(t, mode, resourceTable); err != nil {
		return false, err
	}

	existing, held := t.TableLockMode(oid)
	if held && existing == mode {
		return true, nil
	}
	if held && !upgradeAllowed(existing, mode) {
		t.SetState(txn.Aborted)
		return false, &AbortError{t.ID(), IncompatibleUpgrade}
	}

	q := m.getTableQueue(oid)
	q.mu.Lock()

	if held {
		if q.upgrading != noUpgrader && q.upgrading != t.ID() {
			q.mu.Unlock()
			t.SetState(txn.Aborted)
			return false, &AbortError{t.ID(), UpgradeConflict}
		}
		q.upgrading = t.ID()
		q.requests = append([]*request{{txnID: t.ID(), mode: mode}}, q.requests...)
	} else {
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: mode})
	}

	ok := m.waitForGrant(q, t, mode)
	if !ok {
		q.mu.Unlock()
		return false, &AbortError{t.ID(), Deadlock}
	}

	if held {
		t.UpgradeTable(oid, existing, mode)
		removeRequest(q, t.ID(), existing)
		q.upgrading = noUpgrader
	} else {
		t.GrantTable(oid, mode)
	}
	q.cond.Broadcast()
	q.mu.Unlock()
	m.detector.noteBlockerResolved()
	return true, nil
}

// waitForGrant must be called with q.mu held. It repeatedly runs the grant
// algorithm and waits on q.cond until t's own request is granted or t is
// marked ABORTED by the deadlock detector. On abort it removes t's own pending request and clears the
// upgrade slot if t owned it, then returns false.
func (m *Manager) waitForGrant(q *resourceQueue, t *txn.Transaction, mode txn.LockMode) bool {
	for {
		grantEligible(q.requests, q.upgrading)
		own := findRequest(q.requests, t.ID(), mode)
		if own != nil && own.granted {
			return true
		}
		if t.State() == txn.Aborted {
			removeRequest(q, t.ID(), mode)
			if q.upgrading == t.ID() {
				q.upgrading = noUpgrader
			}
			q.cond.Broadcast()
			return false
		}
		q.cond.Wait()
	}
}

func unlockTransitionState(t *txn.Transaction, mode txn.LockMode) {
	switch t.IsolationLevel() {
	case txn.RepeatableRead:
		if mode == txn.Shared || mode == txn.Exclusive {
			if t.State() == txn.Growing {
				t.SetState(txn.Shrinking)
			}
		}
	case txn.ReadCommitted:
		if mode == txn.Exclusive && t.State() == txn.Growing {
			t.SetState(txn.Shrinking)
		}
	case txn.ReadUncommitted:
		// S is never granted under this level, so only X is checked.
		if mode == txn.Exclusive && t.State() == txn.Growing {
			t.SetState(txn.Shrinking)
		}
	}
}

// UnlockTable releases t's lock on oid. Fails if row locks
// on oid are still held, or if no table lock is held at all.
func (m *Manager) UnlockTable(t *txn.Transaction, oid uint64) (bool, error) {
	mode, held := t.TableLockMode(oid)
	if !held {
		t.SetState(txn.Aborted)
		return false, &AbortError{t.ID(), AttemptedUnlockButNoLockHeld}
	}
	if t.RowLockCount(oid) > 0 {
		t.SetState(txn.Aborted)
		return false, &AbortError{t.ID(), TableUnlockedBeforeUnlockingRows}
	}

	q := m.getTableQueue(oid)
	q.mu.Lock()
	removeRequest(q, t.ID(), mode)
	q.cond.Broadcast()
	q.mu.Unlock()

	t.ReleaseTable(oid, mode)
	unlockTransitionState(t, mode)
	return true, nil
}

// LockRow acquires S or X on rid within table oid. The enclosing table
// lock must already be held: S needs any table mode, X needs IX, X, or SIX.
func (m *Manager) LockRow(t *txn.Transaction, mode txn.LockMode, oid uint64, rid txn.RID) (bool, error) {
	m.register(t)

	if mode != txn.Shared && mode != txn.Exclusive {
		t.SetState(txn.Aborted)
		return false, &AbortError{t.ID(), AttemptedIntentionLockOnRow}
	}
	if err := m.checkLockModeLegal(t, mode, resourceRow); err != nil {
		return false, err
	}

	tableMode, tableHeld := t.TableLockMode(oid)
	if !tableHeld {
		t.SetState(txn.Aborted)
		return false, &AbortError{t.ID(), TableLockNotPresent}
	}
	if mode == txn.Shared {
		// any table mode suffices — tableHeld already guarantees this.
		_ = tableMode
	} else {
		if tableMode != txn.IntentionExclusive && tableMode != txn.Exclusive && tableMode != txn.SharedIntentionExclusive {
			t.SetState(txn.Aborted)
			return false, &AbortError{t.ID(), TableLockNotPresent}
		}
	}

	existing, held := rowLockMode(t, oid, rid)
	if held && existing == mode {
		return true, nil
	}
	if held && !upgradeAllowed(existing, mode) {
		t.SetState(txn.Aborted)
		return false, &AbortError{t.ID(), IncompatibleUpgrade}
	}

	q := m.getRowQueue(oid, rid)
	q.mu.Lock()

	if held {
		if q.upgrading != noUpgrader && q.upgrading != t.ID() {
			q.mu.Unlock()
			t.SetState(txn.Aborted)
			return false, &AbortError{t.ID(), UpgradeConflict}
		}
		q.upgrading = t.ID()
		q.requests = append([]*request{{txnID: t.ID(), mode: mode}}, q.requests...)
	} else {
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: mode})
	}

	ok := m.waitForGrant(q, t, mode)
	if !ok {
		q.mu.Unlock()
		return false, &AbortError{t.ID(), Deadlock}
	}

	if held {
		t.UpgradeRow(oid, rid, existing, mode)
		removeRequest(q, t.ID(), existing)
		q.upgrading = noUpgrader
	} else {
		t.GrantRow(oid, rid, mode)
	}
	q.cond.Broadcast()
	q.mu.Unlock()
	m.detector.noteBlockerResolved()
	return true, nil
}

func rowLockMode(t *txn.Transaction, oid uint64, rid txn.RID) (txn.LockMode, bool) {
	if t.HasRowLock(oid, rid, txn.Exclusive) {
		return txn.Exclusive, true
	}
	if t.HasRowLock(oid, rid, txn.Shared) {
		return txn.Shared, true
	}
	return 0, false
}

// UnlockRow releases t's lock on rid within oid.
func (m *Manager) UnlockRow(t *txn.Transaction, oid uint64, rid txn.RID) (bool, error) {
	mode, held := rowLockMode(t, oid, rid)
	if !held {
		t.SetState(txn.Aborted)
		return false, &AbortError{t.ID(), AttemptedUnlockButNoLockHeld}
	}

	q := m.getRowQueue(oid, rid)
	q.mu.Lock()
	removeRequest(q, t.ID(), mode)
	q.cond.Broadcast()
	q.mu.Unlock()

	t.ReleaseRow(oid, rid, mode)
	unlockTransitionState(t, mode)
	return true, nil
}
