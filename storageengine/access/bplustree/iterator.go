package bplustree

import (
	"fmt"

	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/page"
	"github.com/shivang/stratumdb/types"
)

// Iid identifies a position within a leaf during iteration:
// (page_no, slot_no), per spec.md §4.2.4 and the GLOSSARY.
type Iid = types.Iid

// LeafBegin descends to the leaf that would hold key and returns the
// Iid of its first entry with a key >= key.
func (t *BTree) LeafBegin(key []byte) (Iid, error) {
	if t.hdr.RootPageNo == IxInitRootPage {
		return types.NoIid, nil
	}
	p, err := t.descend(key, func(_ *page.Page) bool { return true })
	if err != nil {
		return types.NoIid, err
	}
	defer p.releaseAll()
	leafG, local := p.top()
	idx := findInsertPos(leafG.Page(), t.hdr, key)
	return Iid{PageNo: local, Slot: idx}, nil
}

// LeafEnd returns the Iid one past the last entry of the last leaf.
func (t *BTree) LeafEnd() Iid {
	if t.hdr.LastLeaf == NoLeaf {
		return types.NoIid
	}
	return Iid{PageNo: t.hdr.LastLeaf, Slot: -1} // sentinel: resolved lazily in Scan
}

// FirstLeafBegin returns the Iid of the very first entry in the tree,
// for a full unbounded scan.
func (t *BTree) FirstLeafBegin() Iid {
	if t.hdr.FirstLeaf == NoLeaf {
		return types.NoIid
	}
	return Iid{PageNo: t.hdr.FirstLeaf, Slot: 0}
}

// IxScan iterates leaf entries from a starting Iid, following
// next_leaf on exhaustion, per spec.md §4.2.4.
type IxScan struct {
	t     *BTree
	cur   Iid
	end   Iid // end.Slot == -1 means "last slot of end.PageNo"
	g     *bufferpool.Guard
	ended bool
}

// NewScan builds an IxScan over [start, end). Pass end = LeafEnd() to
// scan to the tail of the index.
func (t *BTree) NewScan(start, end Iid) *IxScan {
	if start == types.NoIid {
		return &IxScan{t: t, ended: true}
	}
	return &IxScan{t: t, cur: start, end: end}
}

// Next returns the Rid at the iterator's current position and
// advances, or ok=false at the scan's end.
func (it *IxScan) Next() (key []byte, rid types.Rid, ok bool, err error) {
	if it.ended {
		return nil, types.NoRid, false, nil
	}
	if it.g == nil || int32(it.g.Page().ID) != it.cur.PageNo {
		if it.g != nil {
			it.g.Release()
			it.g = nil
		}
		g, ferr := it.t.fetch(it.cur.PageNo)
		if ferr != nil {
			return nil, types.NoRid, false, fmt.Errorf("bplustree: scan: %w", ferr)
		}
		it.g = g
	}

	it.g.Page().RLock()
	n := numKeys(it.g.Page())
	if it.cur.Slot >= n {
		it.g.Page().RUnlock()
		nxt := nextLeaf(it.g.Page())
		it.g.Release()
		it.g = nil
		if nxt == NoLeaf {
			it.ended = true
			return nil, types.NoRid, false, nil
		}
		it.cur = Iid{PageNo: nxt, Slot: 0}
		return it.Next()
	}

	if it.cur.PageNo == it.end.PageNo && it.end.Slot >= 0 && it.cur.Slot >= it.end.Slot {
		it.g.Page().RUnlock()
		it.ended = true
		return nil, types.NoRid, false, nil
	}

	key = append([]byte(nil), keyAt(it.g.Page(), it.t.hdr, it.cur.Slot)...)
	rid = ridAt(it.g.Page(), it.t.hdr, it.cur.Slot)
	it.g.Page().RUnlock()
	it.cur.Slot++
	return key, rid, true, nil
}

func (it *IxScan) Close() error {
	if it.g != nil {
		err := it.g.Release()
		it.g = nil
		return err
	}
	return nil
}
