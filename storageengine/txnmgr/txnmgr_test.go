package txnmgr_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/catalog"
	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/storageengine/lockmgr"
	"github.com/shivang/stratumdb/storageengine/txnmgr"
	"github.com/shivang/stratumdb/storageengine/wal"
	"github.com/shivang/stratumdb/types"
)

type testFixture struct {
	cat *catalog.Manager
	dm  *diskmanager.DiskManager
	bp  *bufferpool.BufferPool
	wal *wal.Manager
	lm  *lockmgr.Manager
	tm  *txnmgr.Manager
	hf  *heapfile.HeapFile
}

func newFixture(t *testing.T) (*testFixture, func()) {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.Open(filepath.Join(dir, "catalog"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}

	schema := types.BuildSchema("accounts", []types.ColumnDef{
		{Name: "id", Type: types.TypeInt, Width: 4, IsPrimaryKey: true},
		{Name: "balance", Type: types.TypeInt, Width: 4},
	})
	heapFileID, err := cat.CreateTable(schema)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	dm := diskmanager.New()
	if err := dm.OpenFileWithID(filepath.Join(dir, "accounts.heap"), heapFileID); err != nil {
		t.Fatalf("open heap file: %v", err)
	}
	bp := bufferpool.New(16, dm)

	hf, err := heapfile.Create(heapFileID, int32(schema.RecordSize), dm, bp)
	if err != nil {
		t.Fatalf("create heap: %v", err)
	}

	walDir := filepath.Join(dir, "wal")
	w, err := wal.Open(walDir)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	bp.SetWAL(w)

	lm := lockmgr.New()
	tm := txnmgr.New(w, lm, cat, dm, bp)

	f := &testFixture{cat: cat, dm: dm, bp: bp, wal: w, lm: lm, tm: tm, hf: hf}
	cleanup := func() {
		w.Close()
		dm.CloseAll()
		cat.Close()
		os.RemoveAll(dir)
	}
	return f, cleanup
}

func encodeRow(id, balance int32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(id))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(balance))
	return buf
}

func TestBeginAssignsIncreasingIDs(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	t1, err := f.tm.Begin(true)
	if err != nil {
		t.Fatalf("begin t1: %v", err)
	}
	t2, err := f.tm.Begin(true)
	if err != nil {
		t.Fatalf("begin t2: %v", err)
	}
	if t2.ID() <= t1.ID() {
		t.Fatalf("expected increasing txn ids, got %d then %d", t1.ID(), t2.ID())
	}
	if t1.State() != txnmgr.StateDefault {
		t.Fatalf("expected new txn in DEFAULT state, got %v", t1.State())
	}
}

func TestCommitMarksCommittedAndKeepsRow(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	txn, err := f.tm.Begin(true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.tm.Lock(txn, "accounts", lockmgr.ModeX); err != nil {
		t.Fatalf("lock: %v", err)
	}

	row := encodeRow(1, 100)
	rid, err := f.hf.InsertRecord(row, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	txn.RecordWrite(txnmgr.WriteRecord{Table: "accounts", Op: wal.Insert, Rid: rid, New: row})

	if err := f.tm.Commit(txn); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if txn.State() != txnmgr.StateCommitted {
		t.Fatalf("expected COMMITTED, got %v", txn.State())
	}

	got, err := f.hf.GetRecord(rid)
	if err != nil {
		t.Fatalf("get after commit: %v", err)
	}
	if string(got) != string(row) {
		t.Fatalf("row mutated by commit: got %v want %v", got, row)
	}
}

func TestAbortRollsBackInsert(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	txn, err := f.tm.Begin(true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.tm.Lock(txn, "accounts", lockmgr.ModeX); err != nil {
		t.Fatalf("lock: %v", err)
	}

	row := encodeRow(2, 50)
	rid, err := f.hf.InsertRecord(row, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	txn.RecordWrite(txnmgr.WriteRecord{Table: "accounts", Op: wal.Insert, Rid: rid, New: row})

	if err := f.tm.Abort(txn); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if txn.State() != txnmgr.StateAborted {
		t.Fatalf("expected ABORTED, got %v", txn.State())
	}

	if _, err := f.hf.GetRecord(rid); err == nil {
		t.Fatalf("expected record to be gone after abort, it still exists")
	}
}

func TestAbortRollsBackUpdateToOldValue(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	setupTxn, err := f.tm.Begin(false)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	original := encodeRow(3, 500)
	rid, err := f.hf.InsertRecord(original, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	setupTxn.RecordWrite(txnmgr.WriteRecord{Table: "accounts", Op: wal.Insert, Rid: rid, New: original})
	if err := f.tm.Commit(setupTxn); err != nil {
		t.Fatalf("commit setup: %v", err)
	}

	txn, err := f.tm.Begin(true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.tm.Lock(txn, "accounts", lockmgr.ModeX); err != nil {
		t.Fatalf("lock: %v", err)
	}

	updated := encodeRow(3, 999)
	if err := f.hf.UpdateRecord(rid, updated, 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	txn.RecordWrite(txnmgr.WriteRecord{Table: "accounts", Op: wal.Update, Rid: rid, Old: original, New: updated})

	if err := f.tm.Abort(txn); err != nil {
		t.Fatalf("abort: %v", err)
	}

	got, err := f.hf.GetRecord(rid)
	if err != nil {
		t.Fatalf("get after abort: %v", err)
	}
	if string(got) != string(original) {
		t.Fatalf("expected update rolled back to original, got %v want %v", got, original)
	}
}

func TestLockAfterShrinkingIsRejected(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	txn, err := f.tm.Begin(true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.tm.Lock(txn, "accounts", lockmgr.ModeS); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := f.tm.Commit(txn); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := f.tm.Lock(txn, "accounts", lockmgr.ModeS); err == nil {
		t.Fatal("expected lock attempt after commit to be rejected")
	}
}
