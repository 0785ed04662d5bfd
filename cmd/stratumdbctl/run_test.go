package main

import (
	"reflect"
	"testing"

	"github.com/shivang/stratumdb/types"
)

func TestSplitStatements_MultipleStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE t (id INT PRIMARY KEY); INSERT INTO t VALUES (1);")
	want := []string{"CREATE TABLE t (id INT PRIMARY KEY);", " INSERT INTO t VALUES (1);"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitStatements: got %#v, want %#v", got, want)
	}
}

func TestSplitStatements_DropsTrailingEmptySegment(t *testing.T) {
	got := splitStatements("SHOW TABLES;")
	if len(got) != 1 || got[0] != "SHOW TABLES;" {
		t.Fatalf("splitStatements: got %#v", got)
	}
}

func TestSplitStatements_EmptyInput(t *testing.T) {
	got := splitStatements("   ")
	if len(got) != 0 {
		t.Fatalf("splitStatements: expected no statements, got %#v", got)
	}
}

func TestPrintResult_ValueFormatting(t *testing.T) {
	row := []types.Value{types.IntValue(7), types.CharValue("hi")}
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = v.String()
	}
	want := []string{"7", "hi"}
	if !reflect.DeepEqual(cells, want) {
		t.Fatalf("value formatting: got %#v, want %#v", cells, want)
	}
}
