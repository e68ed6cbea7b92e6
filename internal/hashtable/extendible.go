// Package hashtable implements an extendible hash table, used by the buffer
// pool as its page-table backing store (page id -> frame id). Hashing uses
// github.com/cespare/xxhash/v2 rather than a hand-rolled function.
package hashtable

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultBucketCapacity = 4

// Table is a bounded associative mapping supporting Find/Insert/Remove,
// backed by a directory of buckets indexed by the low order global_depth
// bits of hash(key).
type Table struct {
	mu           sync.RWMutex
	globalDepth  uint
	directory    []*bucket
	bucketCap    int
}

type entry struct {
	key   uint64
	value uint64
}

type bucket struct {
	localDepth uint
	entries    []entry
}

func newBucket(localDepth, cap int) *bucket {
	return &bucket{localDepth: uint(localDepth), entries: make([]entry, 0, cap)}
}

// New returns an empty table with a single bucket at global depth 0.
func New() *Table {
	t := &Table{
		globalDepth: 0,
		bucketCap:   defaultBucketCapacity,
	}
	t.directory = []*bucket{newBucket(0, t.bucketCap)}
	return t
}

func hashKey(key uint64) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], key)
	return xxhash.Sum64(b[:])
}

// dirIndex returns the directory slot for key at the current global depth:
// the low order global_depth bits of hash(key).
func dirIndex(h uint64, globalDepth uint) uint64 {
	if globalDepth == 0 {
		return 0
	}
	return h & ((uint64(1) << globalDepth) - 1)
}

// Find returns the value mapped to key, if any.
func (t *Table) Find(key uint64) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b := t.directory[dirIndex(hashKey(key), t.globalDepth)]
	for _, e := range b.entries {
		if e.key == key {
			return e.value, true
		}
	}
	return 0, false
}

// Insert adds key => value, or updates value in place if key already
// exists. Splits the owning bucket (doubling the directory first if the
// bucket is already at global_depth) when it overflows.
func (t *Table) Insert(key, value uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := dirIndex(hashKey(key), t.globalDepth)
		b := t.directory[idx]

		for i := range b.entries {
			if b.entries[i].key == key {
				b.entries[i].value = value
				return
			}
		}

		if len(b.entries) < t.bucketCap {
			b.entries = append(b.entries, entry{key, value})
			return
		}

		// bucket is full: split it, growing the directory first if necessary.
		if b.localDepth == t.globalDepth {
			t.growDirectory()
		}
		t.splitBucket(idx)
		// retry: the key's directory slot now points at a non-full bucket
		// (or we loop again if it still collides, which converges because
		// local_depth strictly increases each pass).
	}
}

// growDirectory doubles the directory and increments global_depth, having
// every new slot alias its old counterpart.
func (t *Table) growDirectory() {
	old := t.directory
	n := len(old)
	grown := make([]*bucket, n*2)
	copy(grown, old)
	copy(grown[n:], old)
	t.directory = grown
	t.globalDepth++
}

// splitBucket splits the bucket at directory index idx into two buckets at
// localDepth+1, redistributing entries by the new bit and rewiring every
// directory slot whose low (localDepth+1) bits match either half's prefix.
func (t *Table) splitBucket(idx uint64) {
	old := t.directory[idx]
	newLocalDepth := old.localDepth + 1
	splitBit := uint64(1) << old.localDepth

	oldPrefix := idx & (splitBit - 1)

	zeroBucket := newBucket(int(newLocalDepth), t.bucketCap)
	oneBucket := newBucket(int(newLocalDepth), t.bucketCap)

	for _, e := range old.entries {
		h := hashKey(e.key)
		if h&splitBit == 0 {
			zeroBucket.entries = append(zeroBucket.entries, e)
		} else {
			oneBucket.entries = append(oneBucket.entries, e)
		}
	}

	mask := (uint64(1) << newLocalDepth) - 1
	for i := range t.directory {
		if uint64(i)&(splitBit-1) != oldPrefix {
			continue
		}
		if uint64(i)&mask == oldPrefix {
			t.directory[i] = zeroBucket
		} else if uint64(i)&mask == (oldPrefix | splitBit) {
			t.directory[i] = oneBucket
		}
	}
}

// Remove deletes key, reporting whether it was present. Buckets are never
// merged back together; a bucket may remain sparse after deletes, matching
// the CMU reference implementation this spec distills.
func (t *Table) Remove(key uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.directory[dirIndex(hashKey(key), t.globalDepth)]
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// GlobalDepth exposes the current directory depth, useful for tests.
func (t *Table) GlobalDepth() uint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.globalDepth
}
