// Package bplustree is the B+tree index (spec.md §4.2, component C3):
// a disk-backed ordered multi-column index with crab-latched
// insert/delete/search and an IxScan range iterator.
//
// Node/page serialization is grounded on
// DaemonDB/storage_engine/access/indexfile_manager/bplustree/node_to_index_page.go
// (fixed header-then-arrays layout, local-vs-global page ID handling),
// adapted from the teacher's variable-length key/value encoding to
// spec.md §6's fixed-width composite-key layout, since the teacher's
// tree stores byte-string keys/values while the engine's key columns
// are the fixed-width types the record manager already encodes.
package bplustree

import (
	"encoding/binary"
	"fmt"

	"github.com/shivang/stratumdb/storageengine/page"
	"github.com/shivang/stratumdb/types"
)

// IxInitRootPage is the sentinel root page number of an empty tree.
const IxInitRootPage int32 = -1

// NoLeaf is the sentinel for next_leaf/prev_leaf/parent "no page".
const NoLeaf int32 = -1

// KeyColumn describes one column of a composite index key, mirroring
// spec.md §6's `{col_type, col_len, col_offset}` file-header entries.
type KeyColumn struct {
	Type   types.DataType
	Len    int32
	Offset int32 // offset within the concatenated key buffer
}

// FileHeader is the index file's page-0 metadata, per spec.md §6.
type FileHeader struct {
	RootPageNo    int32
	FirstLeaf     int32
	LastLeaf      int32
	NumPages      int32
	BTreeOrder    int32 // max_size
	ColTotLen     int32 // concatenated key width
	Columns       []KeyColumn
	KeysSize      int32 // = BTreeOrder * ColTotLen
}

func encodeFileHeader(h FileHeader) []byte {
	buf := make([]byte, 28+len(h.Columns)*12)
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.RootPageNo))
	binary.LittleEndian.PutUint32(buf[4:], uint32(h.FirstLeaf))
	binary.LittleEndian.PutUint32(buf[8:], uint32(h.LastLeaf))
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.NumPages))
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.BTreeOrder))
	binary.LittleEndian.PutUint32(buf[20:], uint32(h.ColTotLen))
	binary.LittleEndian.PutUint32(buf[24:], uint32(len(h.Columns)))
	off := 28
	for _, c := range h.Columns {
		binary.LittleEndian.PutUint32(buf[off:], uint32(c.Type))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(c.Len))
		binary.LittleEndian.PutUint32(buf[off+8:], uint32(c.Offset))
		off += 12
	}
	return buf
}

func decodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < 28 {
		return FileHeader{}, fmt.Errorf("bplustree: truncated file header")
	}
	h := FileHeader{
		RootPageNo: int32(binary.LittleEndian.Uint32(buf[0:])),
		FirstLeaf:  int32(binary.LittleEndian.Uint32(buf[4:])),
		LastLeaf:   int32(binary.LittleEndian.Uint32(buf[8:])),
		NumPages:   int32(binary.LittleEndian.Uint32(buf[12:])),
		BTreeOrder: int32(binary.LittleEndian.Uint32(buf[16:])),
		ColTotLen:  int32(binary.LittleEndian.Uint32(buf[20:])),
	}
	numCols := int(binary.LittleEndian.Uint32(buf[24:]))
	off := 28
	for i := 0; i < numCols; i++ {
		if len(buf) < off+12 {
			return FileHeader{}, fmt.Errorf("bplustree: truncated column spec")
		}
		h.Columns = append(h.Columns, KeyColumn{
			Type:   types.DataType(binary.LittleEndian.Uint32(buf[off:])),
			Len:    int32(binary.LittleEndian.Uint32(buf[off+4:])),
			Offset: int32(binary.LittleEndian.Uint32(buf[off+8:])),
		})
		off += 12
	}
	h.KeysSize = h.BTreeOrder * h.ColTotLen
	return h, nil
}

// Node page layout (little-endian), after the shared 9-byte
// LSN+PageType prefix every page carries:
//
//	offset 9  : IxPageHdr { num_keys, is_leaf, next_leaf, prev_leaf, parent } int32 x5
//	offset 29 : keys  [btree_order * col_tot_len]
//	offset 29+keysSize : rids [btree_order * 8]  (Rid = {page_no int32, slot_no int32})
const (
	ixOffNumKeys   = 9
	ixOffIsLeaf    = 13
	ixOffNextLeaf  = 17
	ixOffPrevLeaf  = 21
	ixOffParent    = 25
	ixHeaderSize   = 29
)

func numKeys(pg *page.Page) int32 {
	return int32(binary.LittleEndian.Uint32(pg.Data[ixOffNumKeys:]))
}
func setNumKeys(pg *page.Page, n int32) {
	binary.LittleEndian.PutUint32(pg.Data[ixOffNumKeys:], uint32(n))
}
func isLeaf(pg *page.Page) bool { return binary.LittleEndian.Uint32(pg.Data[ixOffIsLeaf:]) != 0 }
func setIsLeaf(pg *page.Page, v bool) {
	u := uint32(0)
	if v {
		u = 1
	}
	binary.LittleEndian.PutUint32(pg.Data[ixOffIsLeaf:], u)
}
func nextLeaf(pg *page.Page) int32 { return int32(binary.LittleEndian.Uint32(pg.Data[ixOffNextLeaf:])) }
func setNextLeaf(pg *page.Page, v int32) {
	binary.LittleEndian.PutUint32(pg.Data[ixOffNextLeaf:], uint32(v))
}
func prevLeaf(pg *page.Page) int32 { return int32(binary.LittleEndian.Uint32(pg.Data[ixOffPrevLeaf:])) }
func setPrevLeaf(pg *page.Page, v int32) {
	binary.LittleEndian.PutUint32(pg.Data[ixOffPrevLeaf:], uint32(v))
}
func parentOf(pg *page.Page) int32 { return int32(binary.LittleEndian.Uint32(pg.Data[ixOffParent:])) }
func setParent(pg *page.Page, v int32) {
	binary.LittleEndian.PutUint32(pg.Data[ixOffParent:], uint32(v))
}

func keysOffset() int32 { return ixHeaderSize }

func ridsOffset(h FileHeader) int32 { return ixHeaderSize + h.KeysSize }

func keyAt(pg *page.Page, h FileHeader, i int32) []byte {
	off := keysOffset() + i*h.ColTotLen
	return pg.Data[off : off+h.ColTotLen]
}

func setKeyAt(pg *page.Page, h FileHeader, i int32, key []byte) {
	off := keysOffset() + i*h.ColTotLen
	copy(pg.Data[off:off+h.ColTotLen], key)
}

// ridAt reads the Rid (internal: child page_no in PageNo, slot_no
// unused; leaf: the record Rid) stored at slot i.
func ridAt(pg *page.Page, h FileHeader, i int32) types.Rid {
	off := ridsOffset(h) + i*8
	return types.DecodeRid(pg.Data[off : off+8])
}

func setRidAt(pg *page.Page, h FileHeader, i int32, rid types.Rid) {
	off := ridsOffset(h) + i*8
	copy(pg.Data[off:off+8], types.EncodeRid(rid))
}

// childAt reinterprets an internal node's i-th Rid entry as a child
// page number (internal nodes route on page_no, slot_no is unused).
func childAt(pg *page.Page, h FileHeader, i int32) int32 {
	return ridAt(pg, h, i).PageNo
}

func setChildAt(pg *page.Page, h FileHeader, i int32, childPage int32) {
	setRidAt(pg, h, i, types.Rid{PageNo: childPage, Slot: 0})
}

// InitNode stamps a fresh node page (leaf or internal, initially empty).
func InitNode(pg *page.Page, leaf bool) {
	for i := range pg.Data {
		pg.Data[i] = 0
	}
	pg.Data[8] = byte(page.TypeIndexNode)
	setNumKeys(pg, 0)
	setIsLeaf(pg, leaf)
	setNextLeaf(pg, NoLeaf)
	setPrevLeaf(pg, NoLeaf)
	setParent(pg, NoLeaf)
	pg.LSN = 0
	pg.IsDirty = true
}

// compareKey compares two composite keys column by column using each
// column's own comparison rule (numeric for INT/BIGINT/FLOAT, byte-wise
// for CHAR/DATETIME) — this is ix_compare from spec.md §3.
func compareKey(h FileHeader, a, b []byte) int {
	for _, c := range h.Columns {
		av := a[c.Offset : c.Offset+c.Len]
		bv := b[c.Offset : c.Offset+c.Len]
		if cmp := types.Compare(c.Type, av, bv); cmp != 0 {
			return cmp
		}
	}
	return 0
}
