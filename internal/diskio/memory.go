package diskio

import "sync"

// memManager is an in-memory Manager used by tests so the buffer pool and
// B+Tree suites do not need a scratch file on disk.
type memManager struct {
	mu         sync.Mutex
	pages      map[uint32][]byte
	nextPageID uint32
}

var _ Manager = (*memManager)(nil)

// NewMemory returns a Manager backed by a map instead of a file, with page
// id 0 pre-allocated as the header page.
func NewMemory() Manager {
	m := &memManager{
		pages:      make(map[uint32][]byte),
		nextPageID: 1,
	}
	m.pages[0] = make([]byte, PageSize)
	return m
}

func (m *memManager) ReadPage(pageID uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(buf) != PageSize {
		panic("diskio: buffer must be PageSize bytes")
	}

	data, ok := m.pages[pageID]
	if !ok {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	copy(buf, data)
	return nil
}

func (m *memManager) WritePage(pageID uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(buf) != PageSize {
		panic("diskio: buffer must be PageSize bytes")
	}

	data := make([]byte, PageSize)
	copy(data, buf)
	m.pages[pageID] = data
	return nil
}

func (m *memManager) AllocatePage() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextPageID
	m.nextPageID++
	return id
}

func (m *memManager) Close() error { return nil }
