package heapfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/types"
)

func newTestFile(t *testing.T, recordSize int32) (*heapfile.HeapFile, func()) {
	t.Helper()
	dir := t.TempDir()
	dm := diskmanager.New()
	if err := dm.OpenFileWithID(filepath.Join(dir, "t1.heap"), 1); err != nil {
		t.Fatalf("open heap file: %v", err)
	}
	bp := bufferpool.New(8, dm)
	hf, err := heapfile.Create(1, recordSize, dm, bp)
	if err != nil {
		t.Fatalf("create heap file: %v", err)
	}
	return hf, func() { dm.CloseAll(); os.RemoveAll(dir) }
}

func TestInsertAndGetRecord(t *testing.T) {
	hf, cleanup := newTestFile(t, 16)
	defer cleanup()

	buf := make([]byte, 16)
	copy(buf, "hello, record!!!")
	rid, err := hf.InsertRecord(buf, 0)
	if err != nil {
		t.Fatalf("insert_record: %v", err)
	}

	got, err := hf.GetRecord(rid)
	if err != nil {
		t.Fatalf("get_record: %v", err)
	}
	if string(got) != string(buf) {
		t.Errorf("got %q want %q", got, buf)
	}
}

func TestDeleteRecordClearsSlot(t *testing.T) {
	hf, cleanup := newTestFile(t, 8)
	defer cleanup()

	rid, err := hf.InsertRecord(make([]byte, 8), 0)
	if err != nil {
		t.Fatalf("insert_record: %v", err)
	}
	if err := hf.DeleteRecord(rid, 0); err != nil {
		t.Fatalf("delete_record: %v", err)
	}
	if _, err := hf.GetRecord(rid); err == nil {
		t.Errorf("get_record after delete: expected error, got nil")
	}
}

func TestUpdateRecordInPlace(t *testing.T) {
	hf, cleanup := newTestFile(t, 8)
	defer cleanup()

	rid, err := hf.InsertRecord([]byte("aaaaaaaa"), 0)
	if err != nil {
		t.Fatalf("insert_record: %v", err)
	}
	if err := hf.UpdateRecord(rid, []byte("bbbbbbbb"), 0); err != nil {
		t.Fatalf("update_record: %v", err)
	}
	got, err := hf.GetRecord(rid)
	if err != nil {
		t.Fatalf("get_record: %v", err)
	}
	if string(got) != "bbbbbbbb" {
		t.Errorf("got %q want bbbbbbbb", got)
	}
}

func TestScanReproducesLiveRecords(t *testing.T) {
	hf, cleanup := newTestFile(t, 8)
	defer cleanup()

	want := map[string]bool{}
	for i := 0; i < 50; i++ {
		buf := []byte{byte('a' + i%26), byte(i), byte(i >> 8), 0, 0, 0, 0, 0}
		if _, err := hf.InsertRecord(buf, 0); err != nil {
			t.Fatalf("insert_record %d: %v", i, err)
		}
		want[string(buf)] = true
	}

	it := hf.Scan()
	defer it.Close()
	got := map[string]bool{}
	for {
		_, buf, ok, err := it.Next()
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if !ok {
			break
		}
		got[string(buf)] = true
	}

	if len(got) != len(want) {
		t.Fatalf("scan returned %d records, want %d", len(got), len(want))
	}
	for k := range want {
		if !got[k] {
			t.Errorf("scan missing record %q", k)
		}
	}
}

func TestScanCountDropsAfterDeletes(t *testing.T) {
	hf, cleanup := newTestFile(t, 8)
	defer cleanup()

	var rids []types.Rid
	for i := 0; i < 20; i++ {
		rid, err := hf.InsertRecord(make([]byte, 8), 0)
		if err != nil {
			t.Fatalf("insert_record: %v", err)
		}
		rids = append(rids, rid)
	}
	// Delete every third record and confirm scan count drops accordingly.
	deleted := 0
	for i, rid := range rids {
		if i%3 == 0 {
			if err := hf.DeleteRecord(rid, 0); err != nil {
				t.Fatalf("delete_record: %v", err)
			}
			deleted++
		}
	}

	it := hf.Scan()
	defer it.Close()
	n := 0
	for {
		_, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if !ok {
			break
		}
		n++
	}
	if want := len(rids) - deleted; n != want {
		t.Errorf("scan found %d live records, want %d", n, want)
	}
}
