// Package buffer implements the buffer pool: frames backed by disk pages,
// pin/unpin reference counting, dirty write-back, and LRU-K eviction
// (internal/replacer) located through the page table (internal/hashtable).
package buffer

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"coredb/internal/diskio"
	"coredb/internal/hashtable"
	"coredb/internal/page"
	"coredb/internal/replacer"
)

// ErrPoolFull is returned by NewPage/FetchPage when every frame is pinned.
var ErrPoolFull = errors.New("buffer: pool full, no frame available to evict")

// ErrPinned is returned by DeletePage when the page is still pinned.
var ErrPinned = errors.New("buffer: page is pinned")

// ErrPageNotFound is returned by operations on a page id the pool has no
// record of.
var ErrPageNotFound = errors.New("buffer: page not found")

// Frame is a single buffer pool slot. At most one page is resident in a
// frame at a time; its Data backs a page.Page view.
//
// Latch is the per-page reader/writer latch: it guards
// page *contents* and is acquired by callers (internal/bptree) after the
// pin is already held, never by the pool itself. It is distinct from the
// pin/unpin bookkeeping the pool owns.
type Frame struct {
	Data     []byte
	Latch    sync.RWMutex
	pageID   uint32
	pinCount int
	dirty    bool
}

func (f *Frame) PageID() uint32  { return f.pageID }
func (f *Frame) PinCount() int   { return f.pinCount }
func (f *Frame) IsDirty() bool   { return f.dirty }

// Pool is a bounded, page-addressable cache over a disk file.
type Pool struct {
	mu          sync.Mutex
	disk        diskio.Manager
	replacer    *replacer.Replacer
	pageTable   *hashtable.Table // page id -> frame index
	frames      []*Frame
	freeList    []int
	log         *log.Logger
}

// NewPool creates a pool of the given capacity over disk, using k as the
// LRU-K lookback parameter.
func NewPool(disk diskio.Manager, capacity, k int, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	frames := make([]*Frame, capacity)
	free := make([]int, capacity)
	for i := range frames {
		frames[i] = &Frame{Data: make([]byte, page.Size)}
		free[i] = i
	}

	return &Pool{
		disk:      disk,
		replacer:  replacer.New(capacity, k),
		pageTable: hashtable.New(),
		frames:    frames,
		freeList:  free,
		log:       logger,
	}
}

// pickVictim must be called with mu held. It returns a frame index ready to
// receive a new page, evicting and flushing a dirty victim if necessary.
// The returned frame is not pinned; callers pin it before releasing mu, so
// it is not re-chosen by a concurrent caller before the page table is
// rewired.
func (p *Pool) pickVictim() (int, error) {
	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return idx, nil
	}

	frameIdx, ok := p.replacer.Evict()
	if !ok {
		return 0, ErrPoolFull
	}

	victim := p.frames[frameIdx]
	if victim.pinCount != 0 {
		panic(fmt.Sprintf("buffer: replacer chose a pinned frame, pin_count=%d page_id=%d", victim.pinCount, victim.pageID))
	}

	if victim.dirty {
		if err := p.disk.WritePage(victim.pageID, victim.Data); err != nil {
			return 0, fmt.Errorf("buffer: flushing victim page %d: %w", victim.pageID, err)
		}
		victim.dirty = false
	}

	p.pageTable.Remove(uint64(victim.pageID))
	return frameIdx, nil
}

// NewPage allocates a fresh page id, pins it in a frame, and returns the
// frame. The frame's bytes are zeroed.
func (p *Pool) NewPage() (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameIdx, err := p.pickVictim()
	if err != nil {
		return nil, err
	}

	id := p.disk.AllocatePage()
	f := p.frames[frameIdx]
	for i := range f.Data {
		f.Data[i] = 0
	}
	f.pageID = id
	f.pinCount = 1
	f.dirty = false

	p.pageTable.Insert(uint64(id), uint64(frameIdx))
	p.replacer.RecordAccess(frameIdx)
	p.replacer.SetEvictable(frameIdx, false)

	return f, nil
}

// FetchPage returns the frame holding pageID, reading it from disk into a
// victim frame if it is not already resident. The returned frame is pinned.
func (p *Pool) FetchPage(pageID uint32) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if frameIdx, ok := p.pageTable.Find(uint64(pageID)); ok {
		f := p.frames[frameIdx]
		f.pinCount++
		p.replacer.RecordAccess(int(frameIdx))
		p.replacer.SetEvictable(int(frameIdx), false)
		return f, nil
	}

	frameIdx, err := p.pickVictim()
	if err != nil {
		return nil, err
	}

	f := p.frames[frameIdx]
	if err := p.disk.ReadPage(pageID, f.Data); err != nil {
		p.freeList = append(p.freeList, frameIdx)
		return nil, fmt.Errorf("buffer: reading page %d: %w", pageID, err)
	}
	f.pageID = pageID
	f.pinCount = 1
	f.dirty = false

	p.pageTable.Insert(uint64(pageID), uint64(frameIdx))
	p.replacer.RecordAccess(frameIdx)
	p.replacer.SetEvictable(frameIdx, false)

	return f, nil
}

// UnpinPage decrements pageID's pin count, sets its dirty bit sticky if
// dirtyHint is true, and marks the frame evictable once unpinned. Returns
// false (no-op) if the page is not resident or not pinned.
func (p *Pool) UnpinPage(pageID uint32, dirtyHint bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameIdx, ok := p.pageTable.Find(uint64(pageID))
	if !ok {
		return false
	}

	f := p.frames[frameIdx]
	if f.pinCount <= 0 {
		return false
	}

	if dirtyHint {
		f.dirty = true
	}
	f.pinCount--
	if f.pinCount == 0 {
		p.replacer.SetEvictable(int(frameIdx), true)
	}
	return true
}

// FlushPage writes pageID through to disk if dirty and clears its dirty bit.
func (p *Pool) FlushPage(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(pageID)
}

func (p *Pool) flushLocked(pageID uint32) error {
	frameIdx, ok := p.pageTable.Find(uint64(pageID))
	if !ok {
		return ErrPageNotFound
	}
	f := p.frames[frameIdx]
	if !f.dirty {
		return nil
	}
	if err := p.disk.WritePage(pageID, f.Data); err != nil {
		return fmt.Errorf("buffer: flush page %d: %w", pageID, err)
	}
	f.dirty = false
	return nil
}

// FlushAll flushes every resident dirty page.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range p.frames {
		if f.pinCount >= 0 && f.dirty {
			if err := p.disk.WritePage(f.pageID, f.Data); err != nil {
				return err
			}
			f.dirty = false
		}
	}
	return nil
}

// DeletePage releases pageID from the pool. Fails with ErrPinned if it is
// still pinned. A no-op, reporting success, if pageID is not resident.
func (p *Pool) DeletePage(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameIdx, ok := p.pageTable.Find(uint64(pageID))
	if !ok {
		return nil
	}

	f := p.frames[frameIdx]
	if f.pinCount > 0 {
		return ErrPinned
	}

	p.pageTable.Remove(uint64(pageID))
	p.replacer.Remove(int(frameIdx))
	f.pageID = 0
	f.dirty = false
	p.freeList = append(p.freeList, int(frameIdx))
	return nil
}

// EmptyFrames reports how many frames hold no page, for tests that assert
// the pool invariant: free + pinned + evictable == capacity.
func (p *Pool) EmptyFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.freeList)
}

func (p *Pool) Capacity() int { return len(p.frames) }

// PageAsLeaf/PageAsInternal helpers are intentionally omitted here: callers
// in internal/bptree wrap Frame.Data with page.AsLeaf/page.AsInternal
// themselves, keeping this package ignorant of B+Tree page semantics.
