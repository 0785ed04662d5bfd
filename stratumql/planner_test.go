package stratumql_test

import (
	"testing"

	"github.com/shivang/stratumdb/storageengine"
	"github.com/shivang/stratumdb/stratumql"
)

func newSession(t *testing.T) *storageengine.Session {
	t.Helper()
	eng, err := storageengine.Open(storageengine.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("close engine: %v", err)
		}
	})
	return eng.NewSession()
}

func mustExec(t *testing.T, sess *storageengine.Session, sql string) stratumql.Result {
	t.Helper()
	res, err := stratumql.Exec(sess, sql)
	if err != nil {
		t.Fatalf("Exec(%q): %v", sql, err)
	}
	return res
}

// TestInsertScan covers spec.md §6's scenario 1: insert three rows,
// select them back in insertion order.
func TestInsertScan(t *testing.T) {
	sess := newSession(t)
	mustExec(t, sess, "CREATE TABLE t (id INT, v CHAR(4));")
	mustExec(t, sess, "INSERT INTO t VALUES (1,'aa'), (2,'bb'), (3,'cc');")

	res := mustExec(t, sess, "SELECT * FROM t;")
	if len(res.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(res.Rows))
	}
	for i, want := range []string{"aa", "bb", "cc"} {
		if got := res.Rows[i][1].Str; got != want {
			t.Errorf("row %d: expected v=%q, got %q", i, want, got)
		}
	}
}

// TestIndexPointLookup covers spec.md §6's scenario 2: an equality
// predicate on an indexed column is answered correctly.
func TestIndexPointLookup(t *testing.T) {
	sess := newSession(t)
	mustExec(t, sess, "CREATE TABLE t (id INT, v CHAR(4));")
	mustExec(t, sess, "INSERT INTO t VALUES (1,'aa'), (2,'bb'), (3,'cc');")
	mustExec(t, sess, "CREATE INDEX t(id);")

	res := mustExec(t, sess, "SELECT v FROM t WHERE id = 2;")
	if len(res.Rows) != 1 || res.Rows[0][0].Str != "bb" {
		t.Fatalf("expected one row v=bb, got %#v", res.Rows)
	}
}

// TestUpdateUniquenessViolation covers spec.md §6's scenario 4: an
// update that would collide with an existing unique-index key fails
// and leaves the table unchanged.
func TestUpdateUniquenessViolation(t *testing.T) {
	sess := newSession(t)
	mustExec(t, sess, "CREATE TABLE t (id INT, v CHAR(4));")
	mustExec(t, sess, "CREATE UNIQUE INDEX t(id);")
	mustExec(t, sess, "INSERT INTO t VALUES (1,'a'), (2,'b');")

	if _, err := stratumql.Exec(sess, "UPDATE t SET id = 2 WHERE id = 1;"); err == nil {
		t.Fatalf("expected uniqueness violation, got none")
	}

	res := mustExec(t, sess, "SELECT * FROM t;")
	if len(res.Rows) != 2 {
		t.Fatalf("expected table unchanged at 2 rows, got %d", len(res.Rows))
	}
}

// TestAbortRollsBack covers spec.md §6's scenario 5: an explicit
// transaction's insert disappears after ABORT.
func TestAbortRollsBack(t *testing.T) {
	sess := newSession(t)
	mustExec(t, sess, "CREATE TABLE t (id INT, v CHAR(4));")

	mustExec(t, sess, "begin;")
	mustExec(t, sess, "INSERT INTO t VALUES (9,'z');")
	mustExec(t, sess, "abort;")

	res := mustExec(t, sess, "SELECT * FROM t WHERE id = 9;")
	if len(res.Rows) != 0 {
		t.Fatalf("expected no rows after abort, got %d", len(res.Rows))
	}
}

func TestDeleteAndCount(t *testing.T) {
	sess := newSession(t)
	mustExec(t, sess, "CREATE TABLE t (id INT, v CHAR(4));")
	mustExec(t, sess, "INSERT INTO t VALUES (1,'a'), (2,'b'), (3,'c');")

	res := mustExec(t, sess, "DELETE FROM t WHERE id >= 2;")
	if res.Count != 2 {
		t.Fatalf("expected 2 rows deleted, got %d", res.Count)
	}
	remaining := mustExec(t, sess, "SELECT * FROM t;")
	if len(remaining.Rows) != 1 {
		t.Fatalf("expected 1 row left, got %d", len(remaining.Rows))
	}
}

func TestShowTablesAndDesc(t *testing.T) {
	sess := newSession(t)
	mustExec(t, sess, "CREATE TABLE accounts (id INT, balance FLOAT);")

	tables := mustExec(t, sess, "SHOW TABLES;")
	if len(tables.Rows) != 1 || tables.Rows[0][0].Str != "accounts" {
		t.Fatalf("unexpected SHOW TABLES result: %#v", tables.Rows)
	}

	desc := mustExec(t, sess, "DESC accounts;")
	if len(desc.Rows) != 2 {
		t.Fatalf("expected 2 columns described, got %d", len(desc.Rows))
	}
}
