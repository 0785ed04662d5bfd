package bplustree

import (
	"fmt"

	"github.com/shivang/stratumdb/storageengine/page"
)

// Delete removes key's entry, borrowing or merging with a sibling as
// needed to maintain the min_size invariant (spec.md §4.2.3). lsn is
// the already-appended WAL DeleteEntry record's LSN this write is
// covered by.
func (t *BTree) Delete(key []byte, lsn uint64) error {
	if t.hdr.RootPageNo == IxInitRootPage {
		return fmt.Errorf("bplustree: empty tree")
	}
	safe := func(pg *page.Page) bool { return numKeys(pg) > t.minSize(isLeaf(pg)) }
	p, err := t.descend(key, safe)
	if err != nil {
		return err
	}
	defer p.releaseAll()

	leafG, _ := p.top()
	idx := findInsertPos(leafG.Page(), t.hdr, key)
	if idx >= numKeys(leafG.Page()) || compareKey(t.hdr, keyAt(leafG.Page(), t.hdr, idx), key) != 0 {
		return fmt.Errorf("bplustree: key not found")
	}
	removeEntry(leafG.Page(), t.hdr, idx)
	leafG.MarkDirty(lsn)

	return t.rebalance(p, true, lsn)
}

// rebalance fixes the min_size invariant at the top of p, recursing
// upward through borrow/merge as spec.md §4.2.3 describes. p's top is
// consumed; if a merge happens, the parent entry pointing at the
// removed right sibling is deleted and the loop continues one level
// up.
func (t *BTree) rebalance(p *path, leafLevel bool, lsn uint64) error {
	if len(p.guards) == 0 {
		return nil
	}
	nodeG, nodeLocal := p.top()
	if numKeys(nodeG.Page()) >= t.minSize(leafLevel) {
		return nil
	}
	if len(p.guards) == 1 {
		// nodeG is the root. A root may legally fall below min_size;
		// if it's an internal node reduced to one child, that child
		// becomes the new root.
		if !leafLevel && numKeys(nodeG.Page()) == 1 {
			newRoot := childAt(nodeG.Page(), t.hdr, 0)
			t.hdr.RootPageNo = newRoot
			rg, err := t.fetch(newRoot)
			if err == nil {
				rg.Page().Lock()
				setParent(rg.Page(), NoLeaf)
				rg.Page().Unlock()
				rg.MarkDirty(lsn)
				rg.Release()
			}
			return t.persistHeader()
		}
		return nil
	}

	parentG := p.guards[len(p.guards)-2]
	selfIdx := findChildIndex(parentG.Page(), t.hdr, nodeLocal)

	// Try borrowing from the left sibling, then the right. nodeG is
	// already locked (held from descend since it's still on the path);
	// borrowing only takes the sibling's lock, never nodeG's again.
	if selfIdx > 0 {
		leftLocal := childAt(parentG.Page(), t.hdr, selfIdx-1)
		leftG, err := t.fetch(leftLocal)
		if err == nil {
			leftG.Page().Lock()
			if numKeys(leftG.Page()) > t.minSize(leafLevel) {
				t.borrowFromLeft(parentG.Page(), selfIdx, leftG.Page(), nodeG.Page(), leafLevel, lsn)
				leftG.Page().Unlock()
				leftG.MarkDirty(lsn)
				leftG.Release()
				parentG.MarkDirty(lsn)
				nodeG.MarkDirty(lsn)
				p.popAndRelease()
				return nil
			}
			leftG.Page().Unlock()
			leftG.Release()
		}
	}
	if rightLocal, ok := siblingRight(parentG.Page(), t.hdr, selfIdx); ok {
		rightG, err := t.fetch(rightLocal)
		if err == nil {
			rightG.Page().Lock()
			if numKeys(rightG.Page()) > t.minSize(leafLevel) {
				t.borrowFromRight(parentG.Page(), selfIdx, nodeG.Page(), rightG.Page(), leafLevel, lsn)
				rightG.Page().Unlock()
				rightG.MarkDirty(lsn)
				rightG.Release()
				parentG.MarkDirty(lsn)
				nodeG.MarkDirty(lsn)
				p.popAndRelease()
				return nil
			}
			rightG.Page().Unlock()
			rightG.Release()
		}
	}

	// No borrow possible: merge with the left sibling if available,
	// else the right. nodeG stays locked throughout — it's already
	// held from descend — and is unlocked once, below, by popAndRelease.
	if selfIdx > 0 {
		leftLocal := childAt(parentG.Page(), t.hdr, selfIdx-1)
		leftG, err := t.fetch(leftLocal)
		if err != nil {
			return err
		}
		leftG.Page().Lock()
		t.mergeInto(leftG.Page(), leftLocal, nodeG.Page(), nodeLocal, leafLevel, lsn)
		leftG.Page().Unlock()
		leftG.MarkDirty(lsn)
		removeEntry(parentG.Page(), t.hdr, selfIdx)
		parentG.MarkDirty(lsn)
		leftG.Release()
	} else if rightLocal, ok := siblingRight(parentG.Page(), t.hdr, selfIdx); ok {
		rightG, err := t.fetch(rightLocal)
		if err != nil {
			return err
		}
		rightG.Page().Lock()
		t.mergeInto(nodeG.Page(), nodeLocal, rightG.Page(), rightLocal, leafLevel, lsn)
		rightG.Page().Unlock()
		nodeG.MarkDirty(lsn)
		removeEntry(parentG.Page(), t.hdr, selfIdx+1)
		parentG.MarkDirty(lsn)
		rightG.Release()
	}

	p.popAndRelease()
	return t.rebalance(p, false, lsn)
}

func findChildIndex(parent *page.Page, h FileHeader, childLocal int32) int32 {
	n := numKeys(parent)
	for i := int32(0); i < n; i++ {
		if childAt(parent, h, i) == childLocal {
			return i
		}
	}
	return 0
}

func siblingRight(parent *page.Page, h FileHeader, selfIdx int32) (int32, bool) {
	if selfIdx+1 >= numKeys(parent) {
		return 0, false
	}
	return childAt(parent, h, selfIdx+1), true
}

// borrowFromLeft moves left's last entry into node's front, updating
// the parent separator to node's new first key.
func (t *BTree) borrowFromLeft(parent *page.Page, selfIdx int32, left, node *page.Page, leafLevel bool, lsn uint64) {
	n := numKeys(left)
	k := append([]byte(nil), keyAt(left, t.hdr, n-1)...)
	r := ridAt(left, t.hdr, n-1)
	removeEntry(left, t.hdr, n-1)
	insertEntry(node, t.hdr, 0, k, r)
	if !leafLevel {
		if cg, err := t.fetch(r.PageNo); err == nil {
			cg.Page().Lock()
			setParent(cg.Page(), int32(node.ID))
			cg.Page().Unlock()
			cg.MarkDirty(lsn)
			cg.Release()
		}
	}
	setKeyAt(parent, t.hdr, selfIdx, keyAt(node, t.hdr, 0))
}

// borrowFromRight moves right's first entry onto node's tail.
func (t *BTree) borrowFromRight(parent *page.Page, selfIdx int32, node, right *page.Page, leafLevel bool, lsn uint64) {
	k := append([]byte(nil), keyAt(right, t.hdr, 0)...)
	r := ridAt(right, t.hdr, 0)
	removeEntry(right, t.hdr, 0)
	insertEntry(node, t.hdr, numKeys(node), k, r)
	if !leafLevel {
		if cg, err := t.fetch(r.PageNo); err == nil {
			cg.Page().Lock()
			setParent(cg.Page(), int32(node.ID))
			cg.Page().Unlock()
			cg.MarkDirty(lsn)
			cg.Release()
		}
	}
	setKeyAt(parent, t.hdr, selfIdx+1, keyAt(right, t.hdr, 0))
}

// mergeInto folds right's entries into left, threads the leaf chain
// (if applicable) past the removed right page, and fixes last_leaf.
func (t *BTree) mergeInto(left *page.Page, leftLocal int32, right *page.Page, rightLocal int32, leafLevel bool, lsn uint64) {
	base := numKeys(left)
	n := numKeys(right)
	for i := int32(0); i < n; i++ {
		setKeyAt(left, t.hdr, base+i, keyAt(right, t.hdr, i))
		setRidAt(left, t.hdr, base+i, ridAt(right, t.hdr, i))
		if !leafLevel {
			childLocal := childAt(right, t.hdr, i)
			if cg, err := t.fetch(childLocal); err == nil {
				cg.Page().Lock()
				setParent(cg.Page(), leftLocal)
				cg.Page().Unlock()
				cg.MarkDirty(lsn)
				cg.Release()
			}
		}
	}
	setNumKeys(left, base+n)

	if leafLevel {
		nxt := nextLeaf(right)
		setNextLeaf(left, nxt)
		if nxt != NoLeaf {
			if ng, err := t.fetch(nxt); err == nil {
				ng.Page().Lock()
				setPrevLeaf(ng.Page(), leftLocal)
				ng.Page().Unlock()
				ng.MarkDirty(lsn)
				ng.Release()
			}
		}
		if t.hdr.LastLeaf == rightLocal {
			t.hdr.LastLeaf = leftLocal
			t.persistHeader()
		}
	}
}
