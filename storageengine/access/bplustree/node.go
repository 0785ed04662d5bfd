package bplustree

import "github.com/shivang/stratumdb/storageengine/page"
import "github.com/shivang/stratumdb/types"

// insertEntry shifts key[idx:], rid[idx:] right by one slot and writes
// key/rid at idx. Caller guarantees numKeys(pg) < btree_order.
func insertEntry(pg *page.Page, h FileHeader, idx int32, key []byte, rid types.Rid) {
	n := numKeys(pg)
	for i := n; i > idx; i-- {
		setKeyAt(pg, h, i, keyAt(pg, h, i-1))
		setRidAt(pg, h, i, ridAt(pg, h, i-1))
	}
	setKeyAt(pg, h, idx, key)
	setRidAt(pg, h, idx, rid)
	setNumKeys(pg, n+1)
	pg.IsDirty = true
}

// removeEntry shifts key[idx+1:], rid[idx+1:] left by one slot.
func removeEntry(pg *page.Page, h FileHeader, idx int32) {
	n := numKeys(pg)
	for i := idx; i < n-1; i++ {
		setKeyAt(pg, h, i, keyAt(pg, h, i+1))
		setRidAt(pg, h, i, ridAt(pg, h, i+1))
	}
	setNumKeys(pg, n-1)
	pg.IsDirty = true
}

// findInsertPos returns the first index whose key is >= key (the
// position a new (key, rid) pair should be inserted at to keep the
// array sorted).
func findInsertPos(pg *page.Page, h FileHeader, key []byte) int32 {
	n := numKeys(pg)
	lo, hi := int32(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		if compareKey(h, keyAt(pg, h, mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
