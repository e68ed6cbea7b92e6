// Package page implements the B+Tree page binary layout: a common header
// shared by leaf and internal pages, discriminated by a tagged `type` field
// rather than any form of virtual dispatch.
package page

import (
	"encoding/binary"

	"coredb/internal/assert"
	"coredb/internal/diskio"
)

// Size is the fixed page size shared with the disk layer.
const Size = diskio.PageSize

// InvalidID denotes "no page"/"no child" throughout the tree.
const InvalidID uint32 = diskio.InvalidPageID

// Type discriminates a page's content. It is stored as the first header
// field so a reader never has to guess a page's shape.
type Type uint32

const (
	TypeInvalid Type = iota
	TypeLeaf
	TypeInternal
)

// Key is a fixed-width signed 64 bit key, sized to a native int index key.
type Key int64

// Value is an 8 byte payload. For a leaf page, it is usually a packed RID
// (see Rid in this package); for callers that only need an opaque pointer it
// can be used directly.
type Value uint64

// Rid identifies a tuple by (page id, slot index), packed into a Value.
type Rid struct {
	PageID uint32
	Slot   uint32
}

func (r Rid) Pack() Value {
	return Value(uint64(r.PageID)<<32 | uint64(r.Slot))
}

func UnpackRid(v Value) Rid {
	return Rid{PageID: uint32(uint64(v) >> 32), Slot: uint32(uint64(v))}
}

// header layout, 24 bytes, shared by both page kinds:
//
//	type:u32 size:u32 max_size:u32 parent_id:u32 page_id:u32 lsn:u32
const headerSize = 24

const (
	offType     = 0
	offSize     = 4
	offMaxSize  = 8
	offParentID = 12
	offPageID   = 16
	offLSN      = 20
)

// Page wraps a raw, fixed-size byte buffer belonging to a buffer pool frame.
// It never allocates its own memory: callers pass in the frame's backing
// array so writes are visible to whatever flushes the frame to disk.
type Page struct {
	Data []byte
}

func New(data []byte) Page {
	assert.That(len(data) == Size, "page: backing buffer must be %d bytes, got %d", Size, len(data))
	return Page{Data: data}
}

func (p Page) Type() Type          { return Type(binary.BigEndian.Uint32(p.Data[offType:])) }
func (p Page) Size() int           { return int(binary.BigEndian.Uint32(p.Data[offSize:])) }
func (p Page) MaxSize() int        { return int(binary.BigEndian.Uint32(p.Data[offMaxSize:])) }
func (p Page) ParentID() uint32    { return binary.BigEndian.Uint32(p.Data[offParentID:]) }
func (p Page) PageID() uint32      { return binary.BigEndian.Uint32(p.Data[offPageID:]) }
func (p Page) LSN() uint32         { return binary.BigEndian.Uint32(p.Data[offLSN:]) }
func (p Page) IsLeaf() bool        { return p.Type() == TypeLeaf }
func (p Page) IsInternal() bool    { return p.Type() == TypeInternal }

func (p Page) setType(t Type)        { binary.BigEndian.PutUint32(p.Data[offType:], uint32(t)) }
func (p Page) setSize(n int)         { binary.BigEndian.PutUint32(p.Data[offSize:], uint32(n)) }
func (p Page) setMaxSize(n int)      { binary.BigEndian.PutUint32(p.Data[offMaxSize:], uint32(n)) }
func (p Page) SetParentID(id uint32) { binary.BigEndian.PutUint32(p.Data[offParentID:], id) }
func (p Page) setPageID(id uint32)   { binary.BigEndian.PutUint32(p.Data[offPageID:], id) }
func (p Page) SetLSN(lsn uint32)     { binary.BigEndian.PutUint32(p.Data[offLSN:], lsn) }

func (p Page) setCommonHeader(t Type, maxSize int, pageID, parentID uint32) {
	p.setType(t)
	p.setSize(0)
	p.setMaxSize(maxSize)
	p.SetParentID(parentID)
	p.setPageID(pageID)
	p.SetLSN(0)
}
