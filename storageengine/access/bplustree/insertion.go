package bplustree

import (
	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/page"
	"github.com/shivang/stratumdb/types"
)

// Insert adds (key, rid) to the tree, splitting leaves and internal
// nodes as needed per spec.md §4.2.2. lsn is the already-appended WAL
// InsertEntry record's LSN this write is covered by.
func (t *BTree) Insert(key []byte, rid types.Rid, lsn uint64) error {
	if t.hdr.RootPageNo == IxInitRootPage {
		local, g, err := t.allocNode(true)
		if err != nil {
			return err
		}
		g.Page().Lock()
		insertEntry(g.Page(), t.hdr, 0, key, rid)
		g.Page().Unlock()
		g.MarkDirty(lsn)
		g.Release()
		t.hdr.RootPageNo = local
		t.hdr.FirstLeaf = local
		t.hdr.LastLeaf = local
		return t.persistHeader()
	}

	safe := func(pg *page.Page) bool { return numKeys(pg) < t.hdr.BTreeOrder-1 }
	p, err := t.descend(key, safe)
	if err != nil {
		return err
	}

	leafG, _ := p.top()
	idx := findInsertPos(leafG.Page(), t.hdr, key)
	insertEntry(leafG.Page(), t.hdr, idx, key, rid)
	leafG.MarkDirty(lsn)

	if numKeys(leafG.Page()) < t.hdr.BTreeOrder {
		p.releaseAll()
		return nil
	}
	// Overflow: split the leaf, then propagate upward.
	sepKey, rightLocal, err := t.splitLeaf(leafG, lsn)
	if err != nil {
		p.releaseAll()
		return err
	}
	p.popAndRelease()
	err = t.insertIntoParent(p, sepKey, rightLocal, lsn)
	p.releaseAll()
	return err
}

// splitLeaf splits a full leaf: left keeps ceil(order/2) keys, right
// gets the rest on a freshly allocated page threaded into the leaf
// chain. Returns the separator key (right's first key) and right's
// local page number. The caller's guard (leafG) remains pinned.
func (t *BTree) splitLeaf(leafG *bufferpool.Guard, lsn uint64) ([]byte, int32, error) {
	order := t.hdr.BTreeOrder
	leftSize := (order + 1) / 2

	rightLocal, rightG, err := t.allocNode(true)
	if err != nil {
		return nil, 0, err
	}
	defer rightG.Release()
	rightG.Page().Lock()
	defer rightG.Page().Unlock()

	for i := leftSize; i < order; i++ {
		setKeyAt(rightG.Page(), t.hdr, i-leftSize, keyAt(leafG.Page(), t.hdr, i))
		setRidAt(rightG.Page(), t.hdr, i-leftSize, ridAt(leafG.Page(), t.hdr, i))
	}
	setNumKeys(rightG.Page(), order-leftSize)
	setNumKeys(leafG.Page(), leftSize)

	oldNext := nextLeaf(leafG.Page())
	setNextLeaf(rightG.Page(), oldNext)
	setPrevLeaf(rightG.Page(), int32(leafG.Page().ID))
	setNextLeaf(leafG.Page(), rightLocal)
	if oldNext != NoLeaf {
		nextG, err := t.fetch(oldNext)
		if err == nil {
			nextG.Page().Lock()
			setPrevLeaf(nextG.Page(), rightLocal)
			nextG.Page().Unlock()
			nextG.MarkDirty(lsn)
			nextG.Release()
		}
	}
	if t.hdr.LastLeaf == int32(leafG.Page().ID) {
		t.hdr.LastLeaf = rightLocal
	}
	leafG.MarkDirty(lsn)
	rightG.MarkDirty(lsn)

	sepKey := append([]byte(nil), keyAt(rightG.Page(), t.hdr, 0)...)
	return sepKey, rightLocal, t.persistHeader()
}

// splitInternal splits a full internal node analogously to splitLeaf,
// without leaf-chain pointers.
func (t *BTree) splitInternal(nodeG *bufferpool.Guard, lsn uint64) ([]byte, int32, error) {
	order := t.hdr.BTreeOrder
	leftSize := (order + 1) / 2

	rightLocal, rightG, err := t.allocNode(false)
	if err != nil {
		return nil, 0, err
	}
	defer rightG.Release()
	rightG.Page().Lock()
	defer rightG.Page().Unlock()

	for i := leftSize; i < order; i++ {
		setKeyAt(rightG.Page(), t.hdr, i-leftSize, keyAt(nodeG.Page(), t.hdr, i))
		setRidAt(rightG.Page(), t.hdr, i-leftSize, ridAt(nodeG.Page(), t.hdr, i))
	}
	setNumKeys(rightG.Page(), order-leftSize)
	setNumKeys(nodeG.Page(), leftSize)
	t.reparentChildren(rightG.Page(), rightLocal, lsn)

	nodeG.MarkDirty(lsn)
	rightG.MarkDirty(lsn)
	sepKey := append([]byte(nil), keyAt(rightG.Page(), t.hdr, 0)...)
	return sepKey, rightLocal, nil
}

// reparentChildren stamps parent on every child referenced by an
// internal node that just moved (e.g. after a split).
func (t *BTree) reparentChildren(pg *page.Page, selfLocal int32, lsn uint64) {
	n := numKeys(pg)
	for i := int32(0); i < n; i++ {
		childLocal := childAt(pg, t.hdr, i)
		cg, err := t.fetch(childLocal)
		if err != nil {
			continue
		}
		cg.Page().Lock()
		setParent(cg.Page(), selfLocal)
		cg.Page().Unlock()
		cg.MarkDirty(lsn)
		cg.Release()
	}
}

// insertIntoParent propagates (sepKey, rightLocal) up the retained
// path, splitting internal nodes as needed and growing a new root when
// the path is exhausted. p no longer contains the child that split;
// its top (if any) is that child's parent.
func (t *BTree) insertIntoParent(p *path, sepKey []byte, rightLocal int32, lsn uint64) error {
	if len(p.guards) == 0 {
		// The node that split was the root — grow a new one.
		newRootLocal, rootG, err := t.allocNode(false)
		if err != nil {
			return err
		}
		rootG.Page().Lock()
		insertEntry(rootG.Page(), t.hdr, 0, make([]byte, t.hdr.ColTotLen), types.Rid{PageNo: t.hdr.RootPageNo})
		insertEntry(rootG.Page(), t.hdr, 1, sepKey, types.Rid{PageNo: rightLocal})
		rootG.Page().Unlock()
		rootG.MarkDirty(lsn)
		t.reparentChildren(rootG.Page(), newRootLocal, lsn)
		rootG.Release()
		t.hdr.RootPageNo = newRootLocal
		return t.persistHeader()
	}

	parentG, _ := p.top()
	idx := findInsertPos(parentG.Page(), t.hdr, sepKey)
	insertEntry(parentG.Page(), t.hdr, idx, sepKey, types.Rid{PageNo: rightLocal})
	parentG.MarkDirty(lsn)
	rightChildG, err := t.fetch(rightLocal)
	if err == nil {
		rightChildG.Page().Lock()
		setParent(rightChildG.Page(), int32(parentG.Page().ID))
		rightChildG.Page().Unlock()
		rightChildG.MarkDirty(lsn)
		rightChildG.Release()
	}

	if numKeys(parentG.Page()) < t.hdr.BTreeOrder {
		return nil
	}
	nextSep, nextRight, err := t.splitInternal(parentG, lsn)
	if err != nil {
		return err
	}
	p.popAndRelease()
	return t.insertIntoParent(p, nextSep, nextRight, lsn)
}
