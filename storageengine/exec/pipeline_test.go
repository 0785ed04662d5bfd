package exec_test

import (
	"testing"

	"github.com/shivang/stratumdb/storageengine/exec"
)

func TestNestedLoopJoinMatchesOnEquality(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, txn := f.newCtx(t, false)

	insertAccount(t, ctx, 1, 100, "alice")
	insertAccount(t, ctx, 2, 200, "bob")
	insertOrder(t, ctx, 101, 1, 30)
	insertOrder(t, ctx, 102, 2, 45)
	insertOrder(t, ctx, 103, 1, 15)

	outer, err := exec.NewSeqScan(ctx, "accounts", nil)
	if err != nil {
		t.Fatalf("outer scan: %v", err)
	}
	inner, err := exec.NewSeqScan(ctx, "orders", []exec.Predicate{
		{Left: exec.TabCol{Table: "orders", Col: "account_id"}, Op: exec.OpEq, RightIsCol: true, RightCol: exec.TabCol{Table: "accounts", Col: "id"}},
	})
	if err != nil {
		t.Fatalf("inner scan: %v", err)
	}
	join := exec.NewNestedLoopJoin(outer, inner, nil)
	if err := join.BeginTuple(); err != nil {
		t.Fatalf("begin join: %v", err)
	}
	rows, err := join.GetBlock()
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 joined rows (2 for account 1, 1 for account 2), got %d", len(rows))
	}
	for _, row := range rows {
		acctID := row[exec.TabCol{Table: "accounts", Col: "id"}].I32
		orderAcct := row[exec.TabCol{Table: "orders", Col: "account_id"}].I32
		if acctID != orderAcct {
			t.Fatalf("join produced mismatched row: %+v", row)
		}
	}
	f.tm.Commit(txn)
}

func TestSortOrdersByBalanceDescending(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, txn := f.newCtx(t, false)

	insertAccount(t, ctx, 1, 50, "a")
	insertAccount(t, ctx, 2, 300, "b")
	insertAccount(t, ctx, 3, 100, "c")

	scan, err := exec.NewSeqScan(ctx, "accounts", nil)
	if err != nil {
		t.Fatalf("new seqscan: %v", err)
	}
	sortNode := exec.NewSort(scan, []exec.SortKey{
		{Col: exec.TabCol{Table: "accounts", Col: "balance"}, Desc: true},
	})
	if err := sortNode.BeginTuple(); err != nil {
		t.Fatalf("begin sort: %v", err)
	}
	rows, err := sortNode.GetBlock()
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	want := []int32{300, 100, 50}
	for i, row := range rows {
		got := row[exec.TabCol{Table: "accounts", Col: "balance"}].I32
		if got != want[i] {
			t.Fatalf("row %d: expected balance %d, got %d", i, want[i], got)
		}
	}
	f.tm.Commit(txn)
}

func TestAggregateSumAndCount(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, txn := f.newCtx(t, false)

	insertAccount(t, ctx, 1, 10, "a")
	insertAccount(t, ctx, 2, 20, "b")
	insertAccount(t, ctx, 3, 30, "c")

	sumScan, err := exec.NewSeqScan(ctx, "accounts", nil)
	if err != nil {
		t.Fatalf("new seqscan: %v", err)
	}
	resultCol := exec.TabCol{Table: "accounts", Col: "total"}
	sumAgg := exec.NewAggregate(sumScan, exec.AggSum, exec.TabCol{Table: "accounts", Col: "balance"}, resultCol)
	if err := sumAgg.BeginTuple(); err != nil {
		t.Fatalf("begin sum: %v", err)
	}
	if sumAgg.IsEnd() {
		t.Fatal("expected a result row")
	}
	if got := sumAgg.Next()[resultCol].I64; got != 60 {
		t.Fatalf("expected sum 60, got %d", got)
	}

	countScan, err := exec.NewSeqScan(ctx, "accounts", nil)
	if err != nil {
		t.Fatalf("new seqscan: %v", err)
	}
	countCol := exec.TabCol{Table: "accounts", Col: "n"}
	countAgg := exec.NewAggregate(countScan, exec.AggCount, exec.TabCol{}, countCol)
	if err := countAgg.BeginTuple(); err != nil {
		t.Fatalf("begin count: %v", err)
	}
	if got := countAgg.Next()[countCol].I32; got != 3 {
		t.Fatalf("expected count 3, got %d", got)
	}
	f.tm.Commit(txn)
}

func TestProjectionRenamesColumns(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx, txn := f.newCtx(t, false)

	insertAccount(t, ctx, 7, 77, "zed")

	scan, err := exec.NewSeqScan(ctx, "accounts", nil)
	if err != nil {
		t.Fatalf("new seqscan: %v", err)
	}
	proj := exec.NewProjection(scan, []exec.ProjItem{
		{Src: exec.TabCol{Table: "accounts", Col: "balance"}, Alias: exec.TabCol{Table: "", Col: "bal"}},
	})
	if err := proj.BeginTuple(); err != nil {
		t.Fatalf("begin projection: %v", err)
	}
	if proj.IsEnd() {
		t.Fatal("expected one projected row")
	}
	row := proj.Next()
	if len(row) != 1 {
		t.Fatalf("expected projection to emit exactly one column, got %+v", row)
	}
	v, ok := row[exec.TabCol{Table: "", Col: "bal"}]
	if !ok || v.I32 != 77 {
		t.Fatalf("expected bal=77, got %+v", row)
	}
	f.tm.Commit(txn)
}
