// Package replacer implements the LRU-K replacement policy: eviction
// ranked by backward k-distance, frames with fewer than k accesses evicted
// FIFO ahead of any frame with a full k-history.
package replacer

import (
	"container/list"
	"sync"
)

type frameState struct {
	frameID    int
	k          int
	history    []uint64 // ring buffer of up to k timestamps, oldest overwritten first
	count      int      // number of accesses recorded so far (caps at k)
	next       int      // ring buffer write cursor once count == k
	evictable  bool
	newListEl  *list.Element // non-nil while resident in the new list
}

func newFrameState(id, k int) *frameState {
	return &frameState{frameID: id, k: k, history: make([]uint64, k)}
}

func (f *frameState) recordAccess(ts uint64) {
	if f.count < f.k {
		f.history[f.count] = ts
		f.count++
	} else {
		f.history[f.next] = ts
		f.next = (f.next + 1) % f.k
	}
}

// kthMostRecent returns the timestamp of the kth-most-recent access, the
// oldest entry currently held once count == k.
func (f *frameState) kthMostRecent() uint64 {
	return f.history[f.next]
}

func (f *frameState) firstAccess() uint64 {
	if f.count < f.k {
		return f.history[0]
	}
	// the slot about to be overwritten next holds the oldest of the k
	// entries, which for a frame with >=k accesses is also its first ever
	// recorded access only while count==k exactly; kept for new-list FIFO
	// purposes count is always <k here so history[0] is correct.
	return f.history[0]
}

func (f *frameState) reset() {
	f.count = 0
	f.next = 0
	f.evictable = false
	f.newListEl = nil
}

// Replacer selects an evictable frame by LRU-K: frames with fewer than k
// accesses are treated as having infinite backward k-distance and evicted
// FIFO among themselves (the "new list"); frames with k or more accesses
// are evicted by largest backward k-distance, i.e. smallest (oldest)
// kth-most-recent timestamp (the "cache list").
type Replacer struct {
	mu        sync.Mutex
	k         int
	size      int // capacity, informational
	curSize   int // number of evictable frames
	clock     uint64
	frames    map[int]*frameState
	newList   *list.List // evictable frames with < k accesses, by first access
	cacheList map[int]*frameState
}

func New(numFrames, k int) *Replacer {
	return &Replacer{
		k:         k,
		size:      numFrames,
		frames:    make(map[int]*frameState, numFrames),
		newList:   list.New(),
		cacheList: make(map[int]*frameState),
	}
}

func (r *Replacer) get(frameID int) *frameState {
	fs, ok := r.frames[frameID]
	if !ok {
		fs = newFrameState(frameID, r.k)
		r.frames[frameID] = fs
	}
	return fs
}

// RecordAccess appends a timestamp for frameID. If the frame just crossed
// the k-access threshold it moves from the new list to the cache list.
func (r *Replacer) RecordAccess(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs := r.get(frameID)
	wasBelowK := fs.count < r.k
	fs.recordAccess(r.clock)
	r.clock++

	if !fs.evictable {
		return
	}

	nowAtK := fs.count >= r.k
	if wasBelowK && nowAtK {
		r.newList.Remove(fs.newListEl)
		fs.newListEl = nil
		r.cacheList[frameID] = fs
	}
}

// SetEvictable flips whether frameID may be chosen as a victim, moving it
// between the internal lists (or out of them) as needed. A frame with zero
// recorded accesses cannot be made evictable.
func (r *Replacer) SetEvictable(frameID int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs := r.get(frameID)
	if fs.evictable == evictable {
		return
	}

	if evictable {
		if fs.count == 0 {
			return
		}
		fs.evictable = true
		r.curSize++
		if fs.count < r.k {
			// keep the new list ordered by first access.
			var before *list.Element
			for e := r.newList.Front(); e != nil; e = e.Next() {
				if e.Value.(*frameState).firstAccess() > fs.firstAccess() {
					before = e
					break
				}
			}
			if before != nil {
				fs.newListEl = r.newList.InsertBefore(fs, before)
			} else {
				fs.newListEl = r.newList.PushBack(fs)
			}
		} else {
			r.cacheList[frameID] = fs
		}
		return
	}

	fs.evictable = false
	r.curSize--
	if fs.count < r.k {
		r.newList.Remove(fs.newListEl)
		fs.newListEl = nil
	} else {
		delete(r.cacheList, frameID)
	}
}

// Evict returns the frame with the largest backward k-distance: the head
// of the new list if non-empty, else the cache-list frame with the
// smallest kth-most-recent timestamp. The evicted frame's history is
// cleared.
func (r *Replacer) Evict() (frameID int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curSize == 0 {
		return 0, false
	}

	if front := r.newList.Front(); front != nil {
		fs := front.Value.(*frameState)
		r.newList.Remove(front)
		fs.reset()
		r.curSize--
		return fs.frameID, true
	}

	var victim *frameState
	for _, fs := range r.cacheList {
		if victim == nil || fs.kthMostRecent() < victim.kthMostRecent() ||
			(fs.kthMostRecent() == victim.kthMostRecent() && fs.frameID < victim.frameID) {
			victim = fs
		}
	}
	delete(r.cacheList, victim.frameID)
	victim.reset()
	r.curSize--
	return victim.frameID, true
}

// Remove evicts frameID outright (used when a page backing it is deleted)
// without it being chosen by Evict. A no-op if the frame is not evictable.
func (r *Replacer) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.frames[frameID]
	if !ok || !fs.evictable {
		return
	}

	if fs.count < r.k {
		r.newList.Remove(fs.newListEl)
	} else {
		delete(r.cacheList, frameID)
	}
	fs.reset()
	r.curSize--
}

// Size returns the number of evictable frames.
func (r *Replacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.curSize
}
