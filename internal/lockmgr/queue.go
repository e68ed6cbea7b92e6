package lockmgr

import (
	"sync"

	"coredb/internal/txn"
)

const noUpgrader txn.ID = -1

// request is one entry in a resource's FIFO request queue.
type request struct {
	txnID   txn.ID
	mode    txn.LockMode
	granted bool
}

// resourceQueue is the per-resource (table or row) wait queue: a mutex and
// condition variable guarding a FIFO request list plus the single
// in-flight upgrade slot.
type resourceQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*request
	upgrading txn.ID
}

func newResourceQueue() *resourceQueue {
	q := &resourceQueue{upgrading: noUpgrader}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// grantEligible grants every ungranted request whose mode is compatible
// with everything currently granted, in FIFO queue order, stopping at the
// first incompatible one. It runs in two passes rather than one combined
// scan by array index: an upgrade request is spliced to the front of the
// queue (see LockTable/LockRow), so a single front-to-back pass would judge
// it against an empty "allowed" set before ever reaching another
// transaction's granted request that sits later in the slice. The first
// pass instead collects the compatibility restriction from every granted
// request up front, regardless of queue position; the second then walks
// only the ungranted requests in order. The upgrading transaction's own
// prior grant is excluded from the first pass, since that grant is being
// replaced.
func grantEligible(reqs []*request, upgrading txn.ID) {
	var allowed [5]bool
	for i := range allowed {
		allowed[i] = true
	}

	restrict := func(heldMode txn.LockMode) {
		for m := txn.LockMode(0); m < 5; m++ {
			if allowed[m] && !compatible[heldMode][m] {
				allowed[m] = false
			}
		}
	}

	for _, r := range reqs {
		if r.granted && r.txnID != upgrading {
			restrict(r.mode)
		}
	}

	for _, r := range reqs {
		if r.granted {
			continue
		}
		if !allowed[r.mode] {
			break
		}
		r.granted = true
		restrict(r.mode)
	}
}

func findRequest(reqs []*request, id txn.ID, mode txn.LockMode) *request {
	for _, r := range reqs {
		if r.txnID == id && r.mode == mode {
			return r
		}
	}
	return nil
}

func removeRequest(q *resourceQueue, id txn.ID, mode txn.LockMode) {
	for i, r := range q.requests {
		if r.txnID == id && r.mode == mode {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// removeByTxn removes every (granted or not) request belonging to id. No
// code path in this package calls it.
func removeByTxn(q *resourceQueue, id txn.ID) {
	out := q.requests[:0]
	for _, r := range q.requests {
		if r.txnID != id {
			out = append(out, r)
		}
	}
	q.requests = out
}
