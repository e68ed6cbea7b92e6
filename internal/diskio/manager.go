// Package diskio is a thin disk I/O collaborator: it reads and writes
// fixed-size pages by id and hands out monotonically increasing page ids.
// It intentionally does not implement a free list, a WAL, or checksums —
// those belong to a segment allocator and a recovery subsystem outside
// this module's scope.
package diskio

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// PageSize is the fixed size of every page read from or written to disk.
const PageSize = 4096

// InvalidPageID denotes "no page".
const InvalidPageID uint32 = 0xFFFFFFFF

// Manager is the disk contract: Open implements it over a single backing
// file, NewMemory over an in-memory map. Page id 0 is reserved for the
// header page.
type Manager interface {
	// ReadPage reads the page with the given id into buf, which must be
	// exactly PageSize bytes.
	ReadPage(pageID uint32, buf []byte) error
	// WritePage writes buf (exactly PageSize bytes) to the page with the
	// given id.
	WritePage(pageID uint32, buf []byte) error
	// AllocatePage returns a fresh, monotonically increasing page id.
	AllocatePage() uint32
	// Close releases the backing file.
	Close() error
}

type fileManager struct {
	mu         sync.Mutex
	file       *os.File
	nextPageID uint32
}

var _ Manager = (*fileManager)(nil)

// Open opens (creating if needed) a file-backed disk manager. Page id 0 is
// allocated and zero-filled immediately so the header page always exists.
func Open(path string) (Manager, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: open %q: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	m := &fileManager{file: f}
	if stat.Size() == 0 {
		m.nextPageID = 1
		zero := make([]byte, PageSize)
		if err := m.WritePage(0, zero); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		m.nextPageID = uint32(stat.Size() / int64(PageSize))
	}

	return m, nil
}

func (m *fileManager) ReadPage(pageID uint32, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("diskio: buffer must be %d bytes, got %d", PageSize, len(buf))
	}

	off := int64(pageID) * int64(PageSize)
	n, err := m.file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("diskio: read page %d: %w", pageID, err)
	}
	if n != PageSize {
		// page has never been written; treat as a zeroed page.
		for i := n; i < PageSize; i++ {
			buf[i] = 0
		}
	}
	return nil
}

func (m *fileManager) WritePage(pageID uint32, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("diskio: buffer must be %d bytes, got %d", PageSize, len(buf))
	}

	off := int64(pageID) * int64(PageSize)
	n, err := m.file.WriteAt(buf, off)
	if err != nil {
		return fmt.Errorf("diskio: write page %d: %w", pageID, err)
	}
	if n != PageSize {
		return fmt.Errorf("diskio: short write for page %d: wrote %d of %d bytes", pageID, n, PageSize)
	}
	return nil
}

func (m *fileManager) AllocatePage() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextPageID
	m.nextPageID++
	return id
}

func (m *fileManager) Close() error {
	return m.file.Close()
}
