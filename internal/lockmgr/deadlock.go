package lockmgr

import (
	"sort"
	"sync"
	"time"

	"coredb/internal/txn"
)

// Edge is a waits-for graph edge: From waits for a grant held by To.
type Edge struct {
	From, To txn.ID
}

// detector periodically rebuilds the waits-for graph from every lock queue
// and aborts the highest-numbered transaction id on each cycle it finds.
type detector struct {
	mgr *Manager

	mu    sync.Mutex
	edges []Edge

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newDetector(mgr *Manager) *detector {
	return &detector{mgr: mgr}
}

// Start launches the background cycle-detection loop, waking every interval.
func (d *detector) Start(interval time.Duration) {
	d.stopCh = make(chan struct{})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.RunOnce()
			}
		}
	}()
}

// Stop halts the background loop and waits for it to exit.
func (d *detector) Stop() {
	if d.stopCh == nil {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
}

// noteBlockerResolved is a hook for callers that just granted a lock; the
// interval-driven loop is sufficient for correctness, so this is a documented no-op
// rather than an eager re-run.
func (d *detector) noteBlockerResolved() {}

func (d *Manager) queuesSnapshot() []*resourceQueue {
	var all []*resourceQueue
	d.tableMu.Lock()
	for _, q := range d.tableQueues {
		all = append(all, q)
	}
	d.tableMu.Unlock()

	d.rowMu.Lock()
	for _, q := range d.rowQueues {
		all = append(all, q)
	}
	d.rowMu.Unlock()
	return all
}

func (d *Manager) broadcastAllQueues() {
	for _, q := range d.queuesSnapshot() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// buildWaitsFor scans every queue and adds an edge t1 -> t2 whenever t1 has
// an ungranted request on a resource where t2 holds a granted request,
// t1 != t2.
func (d *detector) buildWaitsFor() map[txn.ID]map[txn.ID]struct{} {
	graph := make(map[txn.ID]map[txn.ID]struct{})
	addEdge := func(a, b txn.ID) {
		if a == b {
			return
		}
		if graph[a] == nil {
			graph[a] = make(map[txn.ID]struct{})
		}
		graph[a][b] = struct{}{}
	}

	for _, q := range d.mgr.queuesSnapshot() {
		q.mu.Lock()
		var granted []txn.ID
		for _, r := range q.requests {
			if r.granted {
				granted = append(granted, r.txnID)
			}
		}
		for _, r := range q.requests {
			if r.granted {
				continue
			}
			if graph[r.txnID] == nil {
				graph[r.txnID] = make(map[txn.ID]struct{})
			}
			for _, g := range granted {
				addEdge(r.txnID, g)
			}
		}
		q.mu.Unlock()
	}
	return graph
}

func sortedNodes(graph map[txn.ID]map[txn.ID]struct{}) []txn.ID {
	nodes := make([]txn.ID, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

func sortedNeighbors(neighbors map[txn.ID]struct{}) []txn.ID {
	out := make([]txn.ID, 0, len(neighbors))
	for n := range neighbors {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// findCycle runs DFS in ascending transaction-id order of starting nodes
// and ascending neighbor ids, returning the first cycle
// found, or nil.
func findCycle(graph map[txn.ID]map[txn.ID]struct{}) []txn.ID {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[txn.ID]int)
	var path []txn.ID
	var cycle []txn.ID

	var dfs func(n txn.ID) bool
	dfs = func(n txn.ID) bool {
		state[n] = inStack
		path = append(path, n)
		for _, nb := range sortedNeighbors(graph[n]) {
			switch state[nb] {
			case inStack:
				idx := -1
				for i, p := range path {
					if p == nb {
						idx = i
						break
					}
				}
				cycle = append([]txn.ID{}, path[idx:]...)
				return true
			case unvisited:
				if dfs(nb) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		return false
	}

	for _, n := range sortedNodes(graph) {
		if state[n] == unvisited {
			if dfs(n) {
				return cycle
			}
		}
	}
	return nil
}

func maxID(ids []txn.ID) txn.ID {
	max := ids[0]
	for _, id := range ids[1:] {
		if id > max {
			max = id
		}
	}
	return max
}

// RunOnce performs one full pass of the detector: rebuild, find, abort,
// repeat until the waits-for graph is acyclic.
func (d *detector) RunOnce() {
	for {
		graph := d.buildWaitsFor()
		cycle := findCycle(graph)

		d.mu.Lock()
		edges := make([]Edge, 0)
		for from, tos := range graph {
			for to := range tos {
				edges = append(edges, Edge{from, to})
			}
		}
		d.edges = edges
		d.mu.Unlock()

		if cycle == nil {
			return
		}

		victim := maxID(cycle)
		d.mgr.regMu.Lock()
		t := d.mgr.txns[victim]
		d.mgr.regMu.Unlock()
		if t == nil {
			return
		}
		t.SetState(txn.Aborted)
		d.mgr.broadcastAllQueues()
	}
}

// GetEdgeList returns the waits-for edges observed as of the last
// detection pass, for tests to assert graph shape without racing the
// background goroutine.
func (d *detector) GetEdgeList() []Edge {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Edge, len(d.edges))
	copy(out, d.edges)
	return out
}

// StartDeadlockDetection starts the background detector on the manager.
func (m *Manager) StartDeadlockDetection(interval time.Duration) {
	m.detector.Start(interval)
}

// StopDeadlockDetection stops the background detector.
func (m *Manager) StopDeadlockDetection() {
	m.detector.Stop()
}

// RunDeadlockDetectionOnce runs a single detection pass synchronously, for
// tests.
func (m *Manager) RunDeadlockDetectionOnce() {
	m.detector.RunOnce()
}

// WaitsForEdges exposes the last-observed waits-for graph.
func (m *Manager) WaitsForEdges() []Edge {
	return m.detector.GetEdgeList()
}
