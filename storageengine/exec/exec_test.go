package exec_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shivang/stratumdb/storageengine/access/bplustree"
	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/catalog"
	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/storageengine/exec"
	"github.com/shivang/stratumdb/storageengine/lockmgr"
	"github.com/shivang/stratumdb/storageengine/txnmgr"
	"github.com/shivang/stratumdb/storageengine/wal"
	"github.com/shivang/stratumdb/types"
)

type fixture struct {
	cat *catalog.Manager
	dm  *diskmanager.DiskManager
	bp  *bufferpool.BufferPool
	wal *wal.Manager
	lm  *lockmgr.Manager
	tm  *txnmgr.Manager

	accounts types.TableSchema
	idxID    types.IndexDescriptor
}

// newFixture builds an "accounts(id INT PK, balance INT, name CHAR(8))"
// table with a unique index on id, plus an "orders(id INT, account_id
// INT, amount INT)" table with no index, for join tests.
func newFixture(t *testing.T) (*fixture, func()) {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.Open(filepath.Join(dir, "catalog"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}

	accounts := types.BuildSchema("accounts", []types.ColumnDef{
		{Name: "id", Type: types.TypeInt, Width: 4, IsPrimaryKey: true},
		{Name: "balance", Type: types.TypeInt, Width: 4},
		{Name: "name", Type: types.TypeChar, Width: 8},
	})
	accountsHeapID, err := cat.CreateTable(accounts)
	if err != nil {
		t.Fatalf("create accounts: %v", err)
	}

	orders := types.BuildSchema("orders", []types.ColumnDef{
		{Name: "id", Type: types.TypeInt, Width: 4, IsPrimaryKey: true},
		{Name: "account_id", Type: types.TypeInt, Width: 4},
		{Name: "amount", Type: types.TypeInt, Width: 4},
	})
	ordersHeapID, err := cat.CreateTable(orders)
	if err != nil {
		t.Fatalf("create orders: %v", err)
	}

	idxDesc := types.IndexDescriptor{Name: "idx_id", Table: "accounts", Columns: []string{"id"}, Unique: true}
	idxFileID, err := cat.CreateIndex(idxDesc)
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	idxDesc.FileID = idxFileID

	dm := diskmanager.New()
	if err := dm.OpenFileWithID(filepath.Join(dir, "accounts.heap"), accountsHeapID); err != nil {
		t.Fatalf("open accounts heap: %v", err)
	}
	if err := dm.OpenFileWithID(filepath.Join(dir, "orders.heap"), ordersHeapID); err != nil {
		t.Fatalf("open orders heap: %v", err)
	}
	if err := dm.OpenFileWithID(filepath.Join(dir, "idx_id.idx"), idxFileID); err != nil {
		t.Fatalf("open index file: %v", err)
	}

	bp := bufferpool.New(64, dm)

	if _, err := heapfile.Create(accountsHeapID, int32(accounts.RecordSize), dm, bp); err != nil {
		t.Fatalf("create accounts heap: %v", err)
	}
	if _, err := heapfile.Create(ordersHeapID, int32(orders.RecordSize), dm, bp); err != nil {
		t.Fatalf("create orders heap: %v", err)
	}
	if _, err := bplustree.Create(idxFileID, []bplustree.KeyColumn{{Type: types.TypeInt, Len: 4, Offset: 0}}, 4, dm, bp); err != nil {
		t.Fatalf("create index: %v", err)
	}

	walDir := filepath.Join(dir, "wal")
	w, err := wal.Open(walDir)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	bp.SetWAL(w)

	lm := lockmgr.New()
	tm := txnmgr.New(w, lm, cat, dm, bp)

	f := &fixture{cat: cat, dm: dm, bp: bp, wal: w, lm: lm, tm: tm, accounts: accounts, idxID: idxDesc}
	cleanup := func() {
		w.Close()
		dm.CloseAll()
		cat.Close()
		os.RemoveAll(dir)
	}
	return f, cleanup
}

func (f *fixture) newCtx(t *testing.T, explicit bool) (*exec.Context, *txnmgr.Transaction) {
	t.Helper()
	txn, err := f.tm.Begin(explicit)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return exec.NewContext(f.cat, txn, f.tm, f.wal, f.dm, f.bp), txn
}

func insertAccount(t *testing.T, ctx *exec.Context, id, balance int32, name string) {
	t.Helper()
	ins, err := exec.NewInsert(ctx, "accounts", []types.Value{
		types.IntValue(id), types.IntValue(balance), types.CharValue(name),
	})
	if err != nil {
		t.Fatalf("new insert: %v", err)
	}
	if err := ins.BeginTuple(); err != nil {
		t.Fatalf("insert %d: %v", id, err)
	}
}

func insertOrder(t *testing.T, ctx *exec.Context, id, accountID, amount int32) {
	t.Helper()
	ins, err := exec.NewInsert(ctx, "orders", []types.Value{
		types.IntValue(id), types.IntValue(accountID), types.IntValue(amount),
	})
	if err != nil {
		t.Fatalf("new insert order: %v", err)
	}
	if err := ins.BeginTuple(); err != nil {
		t.Fatalf("insert order %d: %v", id, err)
	}
}

func eqPredicate(table, col string, v types.Value) exec.Predicate {
	return exec.Predicate{Left: exec.TabCol{Table: table, Col: col}, Op: exec.OpEq, RightVal: v}
}

func TestSeqScanFindsInsertedRow(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, txn := f.newCtx(t, false)

	insertAccount(t, ctx, 1, 100, "alice")
	insertAccount(t, ctx, 2, 200, "bob")

	scan, err := exec.NewSeqScan(ctx, "accounts", []exec.Predicate{eqPredicate("accounts", "id", types.IntValue(2))})
	if err != nil {
		t.Fatalf("new seqscan: %v", err)
	}
	if err := scan.BeginTuple(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if scan.IsEnd() {
		t.Fatal("expected a matching row")
	}
	row := scan.Next()
	if row[exec.TabCol{Table: "accounts", Col: "balance"}].I32 != 200 {
		t.Fatalf("expected balance 200, got %+v", row)
	}
	if err := scan.NextTuple(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if !scan.IsEnd() {
		t.Fatal("expected scan to end after the single match")
	}
	f.tm.Commit(txn)
}

func TestInsertRejectsDuplicateUniqueKey(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, _ := f.newCtx(t, false)

	insertAccount(t, ctx, 5, 10, "carl")

	ins, err := exec.NewInsert(ctx, "accounts", []types.Value{
		types.IntValue(5), types.IntValue(20), types.CharValue("dave"),
	})
	if err != nil {
		t.Fatalf("new insert: %v", err)
	}
	if err := ins.BeginTuple(); err == nil {
		t.Fatal("expected duplicate unique key to be rejected")
	}
}

func TestIndexScanProbesExactKey(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, txn := f.newCtx(t, false)

	insertAccount(t, ctx, 10, 1000, "erin")
	insertAccount(t, ctx, 11, 1100, "finn")

	probeKey, err := probeKeyFor(f, ctx, 11)
	if err != nil {
		t.Fatalf("probe key: %v", err)
	}
	is, err := exec.NewIndexScan(ctx, "accounts", f.idxID, probeKey,
		[]exec.Predicate{eqPredicate("accounts", "id", types.IntValue(11))})
	if err != nil {
		t.Fatalf("new indexscan: %v", err)
	}
	if err := is.BeginTuple(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if is.IsEnd() {
		t.Fatal("expected a match")
	}
	row := is.Next()
	if row[exec.TabCol{Table: "accounts", Col: "balance"}].I32 != 1100 {
		t.Fatalf("unexpected row: %+v", row)
	}
	f.tm.Commit(txn)
}

func TestDeleteRemovesHeapRecordAndIndexEntry(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, txn := f.newCtx(t, false)

	insertAccount(t, ctx, 20, 500, "gina")

	bt, err := bplustree.Open(f.idxID.FileID, f.dm, f.bp)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	key, err := probeKeyFor(f, ctx, 20)
	if err != nil {
		t.Fatalf("probe key: %v", err)
	}
	if _, err := bt.Search(key); err != nil {
		t.Fatalf("expected index entry before delete: %v", err)
	}

	scan, err := exec.NewSeqScan(ctx, "accounts", []exec.Predicate{eqPredicate("accounts", "id", types.IntValue(20))})
	if err != nil {
		t.Fatalf("new seqscan: %v", err)
	}
	del, err := exec.NewDelete(ctx, "accounts", scan)
	if err != nil {
		t.Fatalf("new delete: %v", err)
	}
	if err := del.BeginTuple(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	count := del.Next()[exec.TabCol{Table: "accounts", Col: "__count"}].I32
	if count != 1 {
		t.Fatalf("expected 1 row deleted, got %d", count)
	}

	verify, err := exec.NewSeqScan(ctx, "accounts", []exec.Predicate{eqPredicate("accounts", "id", types.IntValue(20))})
	if err != nil {
		t.Fatalf("verify seqscan: %v", err)
	}
	if err := verify.BeginTuple(); err != nil {
		t.Fatalf("begin verify: %v", err)
	}
	if !verify.IsEnd() {
		t.Fatal("expected row to be gone after delete")
	}
	if _, err := bt.Search(key); err == nil {
		t.Fatal("expected index entry to be gone after delete")
	}
	f.tm.Commit(txn)
}

func TestUpdateAppliesArithmeticAndMaintainsIndex(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, txn := f.newCtx(t, false)

	insertAccount(t, ctx, 30, 100, "hank")

	scan, err := exec.NewSeqScan(ctx, "accounts", []exec.Predicate{eqPredicate("accounts", "id", types.IntValue(30))})
	if err != nil {
		t.Fatalf("new seqscan: %v", err)
	}
	upd, err := exec.NewUpdate(ctx, "accounts", scan, []exec.SetClause{
		{Col: "id", Op: exec.ArithNone, Operand: types.IntValue(31)},
		{Col: "balance", Op: exec.ArithAdd, Operand: types.IntValue(50)},
	})
	if err != nil {
		t.Fatalf("new update: %v", err)
	}
	if err := upd.BeginTuple(); err != nil {
		t.Fatalf("update: %v", err)
	}

	probeKey, err := probeKeyFor(f, ctx, 31)
	if err != nil {
		t.Fatalf("probe key: %v", err)
	}
	is, err := exec.NewIndexScan(ctx, "accounts", f.idxID, probeKey,
		[]exec.Predicate{eqPredicate("accounts", "id", types.IntValue(31))})
	if err != nil {
		t.Fatalf("new indexscan: %v", err)
	}
	if err := is.BeginTuple(); err != nil {
		t.Fatalf("begin indexscan: %v", err)
	}
	if is.IsEnd() {
		t.Fatal("expected the renumbered row to be found via the index")
	}
	row := is.Next()
	if row[exec.TabCol{Table: "accounts", Col: "balance"}].I32 != 150 {
		t.Fatalf("expected balance 150 after +50, got %+v", row)
	}
	f.tm.Commit(txn)
}

func TestUpdateRejectsDuplicateKeyWithinBatch(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, _ := f.newCtx(t, false)

	insertAccount(t, ctx, 40, 1, "ivan")
	insertAccount(t, ctx, 41, 2, "jane")

	scan, err := exec.NewSeqScan(ctx, "accounts", nil)
	if err != nil {
		t.Fatalf("new seqscan: %v", err)
	}
	upd, err := exec.NewUpdate(ctx, "accounts", scan, []exec.SetClause{
		{Col: "id", Op: exec.ArithNone, Operand: types.IntValue(99)},
	})
	if err != nil {
		t.Fatalf("new update: %v", err)
	}
	if err := upd.BeginTuple(); err == nil {
		t.Fatal("expected both rows colliding on id=99 to be rejected")
	}
}

// probeKeyFor builds the composite key bytes for an accounts.id probe,
// mirroring what a front end would compute from a WHERE id = ? clause.
func probeKeyFor(f *fixture, ctx *exec.Context, id int32) ([]byte, error) {
	col, _ := f.accounts.ColumnByName("id")
	return types.Encode(col, types.IntValue(id))
}
