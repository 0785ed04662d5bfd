package bplustree_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/shivang/stratumdb/storageengine/access/bplustree"
	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/types"
)

func intKey(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func newTestTree(t *testing.T, order int32) (*bplustree.BTree, func()) {
	t.Helper()
	dir := t.TempDir()
	dm := diskmanager.New()
	if err := dm.OpenFileWithID(filepath.Join(dir, "t1.idx"), 1); err != nil {
		t.Fatalf("open index file: %v", err)
	}
	bp := bufferpool.New(32, dm)
	cols := []bplustree.KeyColumn{{Type: types.TypeInt, Len: 4, Offset: 0}}
	tree, err := bplustree.Create(1, cols, order, dm, bp)
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}
	return tree, func() { dm.CloseAll(); os.RemoveAll(dir) }
}

func TestInsertAndSearch(t *testing.T) {
	tree, cleanup := newTestTree(t, 4)
	defer cleanup()

	for i := int32(0); i < 40; i++ {
		if err := tree.Insert(intKey(i), types.Rid{PageNo: i, Slot: 0}, 0); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := int32(0); i < 40; i++ {
		rid, err := tree.Search(intKey(i))
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if rid.PageNo != i {
			t.Errorf("search %d: got rid.PageNo=%d want %d", i, rid.PageNo, i)
		}
	}
}

func TestScanReproducesInsertedKeys(t *testing.T) {
	tree, cleanup := newTestTree(t, 4)
	defer cleanup()

	for i := int32(0); i < 30; i++ {
		if err := tree.Insert(intKey(i), types.Rid{PageNo: i, Slot: 0}, 0); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	start := tree.FirstLeafBegin()
	scan := tree.NewScan(start, tree.LeafEnd())
	defer scan.Close()

	var seen []int32
	for {
		key, rid, ok, err := scan.Next()
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if !ok {
			break
		}
		seen = append(seen, int32(binary.LittleEndian.Uint32(key)))
		_ = rid
	}
	if len(seen) != 30 {
		t.Fatalf("scan produced %d keys, want 30", len(seen))
	}
	for i, v := range seen {
		if v != int32(i) {
			t.Errorf("scan order mismatch at %d: got %d want %d", i, v, i)
		}
	}
}

// TestInsertAndSearchNegativeKeys exercises internalLookup's sentinel
// exclusion: an internal node's slot 0 key is a zero-filled sentinel,
// not a real separator, so keys below zero must still route correctly
// once the tree has split past a single leaf.
func TestInsertAndSearchNegativeKeys(t *testing.T) {
	tree, cleanup := newTestTree(t, 4)
	defer cleanup()

	keys := []int32{-20, -15, -10, -5, -1, 0, 1, 5, 10, 15, 20}
	for _, k := range keys {
		if err := tree.Insert(intKey(k), types.Rid{PageNo: k, Slot: 0}, 0); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	for _, k := range keys {
		rid, err := tree.Search(intKey(k))
		if err != nil {
			t.Fatalf("search %d: %v", k, err)
		}
		if rid.PageNo != k {
			t.Errorf("search %d: got rid.PageNo=%d want %d", k, rid.PageNo, k)
		}
	}
	if _, err := tree.Search(intKey(-100)); err == nil {
		t.Errorf("search -100: expected not-found, got a hit")
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	tree, cleanup := newTestTree(t, 4)
	defer cleanup()

	for i := int32(0); i < 20; i++ {
		if err := tree.Insert(intKey(i), types.Rid{PageNo: i, Slot: 0}, 0); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := int32(0); i < 20; i += 2 {
		if err := tree.Delete(intKey(i), 0); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	for i := int32(0); i < 20; i++ {
		_, err := tree.Search(intKey(i))
		if i%2 == 0 {
			if err == nil {
				t.Errorf("search %d: expected not-found after delete", i)
			}
		} else if err != nil {
			t.Errorf("search %d: %v", i, err)
		}
	}
}
