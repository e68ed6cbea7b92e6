package bptree

import (
	"encoding/binary"

	"coredb/internal/assert"
	"coredb/internal/buffer"
	"coredb/internal/page"

	"github.com/vmihailenco/msgpack"
)

// headerPageID is the well-known page id 0 reserved for the index catalog.
const headerPageID uint32 = 0

// Catalog is the header page's index_name -> root_page_id directory,
// encoded with msgpack: a 4 byte length prefix followed by a msgpack-encoded
// map, rewritten wholesale on every Set/Delete since the catalog is expected
// to be small relative to a page.
type Catalog struct {
	pool *buffer.Pool
}

func NewCatalog(pool *buffer.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) load() (map[string]uint32, error) {
	f, err := c.pool.FetchPage(headerPageID)
	if err != nil {
		return nil, err
	}
	defer c.pool.UnpinPage(headerPageID, false)

	f.Latch.RLock()
	defer f.Latch.RUnlock()

	length := binary.BigEndian.Uint32(f.Data[:4])
	if length == 0 {
		return map[string]uint32{}, nil
	}
	assert.That(int(length)+4 <= page.Size, "bptree: catalog length prefix exceeds page size")

	out := make(map[string]uint32)
	if err := msgpack.Unmarshal(f.Data[4:4+length], &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Catalog) save(m map[string]uint32) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return err
	}
	assert.That(len(data)+4 <= page.Size, "bptree: catalog too large for the header page")

	f, err := c.pool.FetchPage(headerPageID)
	if err != nil {
		return err
	}
	defer c.pool.UnpinPage(headerPageID, true)

	f.Latch.Lock()
	defer f.Latch.Unlock()

	binary.BigEndian.PutUint32(f.Data[:4], uint32(len(data)))
	copy(f.Data[4:], data)
	return nil
}

// Get returns the root page id registered under name.
func (c *Catalog) Get(name string) (uint32, bool, error) {
	m, err := c.load()
	if err != nil {
		return 0, false, err
	}
	id, ok := m[name]
	return id, ok, nil
}

// Set registers or updates name's root page id, called on tree creation and
// on every root change.
func (c *Catalog) Set(name string, rootPageID uint32) error {
	m, err := c.load()
	if err != nil {
		return err
	}
	m[name] = rootPageID
	return c.save(m)
}

// Delete removes name from the catalog.
func (c *Catalog) Delete(name string) error {
	m, err := c.load()
	if err != nil {
		return err
	}
	delete(m, name)
	return c.save(m)
}
