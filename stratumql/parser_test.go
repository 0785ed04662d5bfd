package stratumql

import "testing"

func TestParse_ValidStatements_NoError(t *testing.T) {
	tests := []string{
		"CREATE TABLE t (id INT, v CHAR(4));",
		"CREATE TABLE t (id INT PRIMARY KEY, v CHAR(4));",
		"DROP TABLE t;",
		"CREATE INDEX t(id);",
		"CREATE UNIQUE INDEX t(id, v);",
		"DROP INDEX t(id);",
		"SHOW TABLES;",
		"SHOW INDEX FROM t;",
		"DESC t;",
		"INSERT INTO t VALUES (1,'aa'), (2,'bb'), (3,'cc');",
		"DELETE FROM t;",
		"DELETE FROM t WHERE id = 2;",
		"UPDATE t SET id = 2 WHERE id = 1;",
		"UPDATE t SET id = id + 1, v = 'z' WHERE id = 1;",
		"SELECT * FROM t;",
		"SELECT v FROM t WHERE id = 2;",
		"SELECT id, v FROM t WHERE id >= 10 ORDER BY id DESC LIMIT 5;",
		"SELECT COUNT(*) AS n FROM t;",
		"SELECT a.x, b.y FROM a JOIN b WHERE a.id = b.aid;",
		"begin;",
		"commit;",
		"abort;",
		"rollback;",
		"help;",
		"exit",
	}
	for _, sql := range tests {
		stmt, err := Parse(sql)
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", sql, err)
			continue
		}
		if stmt == nil {
			t.Errorf("Parse(%q) returned nil statement", sql)
		}
	}
}

func TestParse_InvalidStatements_ReturnsError(t *testing.T) {
	tests := []string{
		"SELECT * students",
		"CREATE TABLE t id int",
		"INSERT INTO t VALUES 1, 2",
		"SELECT * FROM t WHERE id",
		"",
	}
	for _, sql := range tests {
		if _, err := Parse(sql); err == nil {
			t.Errorf("Parse(%q) expected error, got none", sql)
		}
	}
}

func TestParse_CreateTable_ColumnShape(t *testing.T) {
	stmt, err := Parse("CREATE TABLE accounts (id INT PRIMARY KEY, name CHAR(16), balance FLOAT);")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ct, ok := stmt.(CreateTableStmt)
	if !ok {
		t.Fatalf("expected CreateTableStmt, got %T", stmt)
	}
	if ct.Table != "accounts" || len(ct.Columns) != 3 {
		t.Fatalf("unexpected statement: %#v", ct)
	}
	if !ct.Columns[0].IsPrimaryKey {
		t.Errorf("expected id to be primary key")
	}
	if ct.Columns[1].Length != 16 {
		t.Errorf("expected name length 16, got %d", ct.Columns[1].Length)
	}
}

func TestParse_Insert_MultipleRows(t *testing.T) {
	stmt, err := Parse("INSERT INTO t VALUES (1,'aa'), (2,'bb');")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ins, ok := stmt.(InsertStmt)
	if !ok {
		t.Fatalf("expected InsertStmt, got %T", stmt)
	}
	if len(ins.Rows) != 2 || len(ins.Rows[0]) != 2 {
		t.Fatalf("unexpected row shape: %#v", ins.Rows)
	}
}

func TestParse_Select_JoinAndOrder(t *testing.T) {
	stmt, err := Parse("SELECT a.x, b.y FROM a JOIN b WHERE a.id = b.aid ORDER BY a.x ASC LIMIT 10;")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel, ok := stmt.(SelectStmt)
	if !ok {
		t.Fatalf("expected SelectStmt, got %T", stmt)
	}
	if len(sel.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(sel.Tables))
	}
	if len(sel.Where) != 1 || !sel.Where[0].RightIsCol {
		t.Fatalf("expected one join condition, got %#v", sel.Where)
	}
	if sel.Limit == nil || *sel.Limit != 10 {
		t.Fatalf("expected limit 10, got %#v", sel.Limit)
	}
}
