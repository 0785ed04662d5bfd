// Package exec implements the volcano-style executor pipeline
// (spec.md §4.7, component C8): an iterator tree of Node
// implementations driven by BeginTuple/NextTuple/IsEnd/Next, plus
// GetBlock for nodes (join, sort, aggregate) that need a fully
// materialized child.
//
// The teacher (DaemonDB/query_executor) has no iterator tree at all —
// its ExecuteSelect/ExecuteInsert/ExecuteUpdate/ExecuteDelete each
// walk a payload and call into storageengine directly in one flat
// function. This package restructures that same per-statement logic
// (predicate evaluation from exec_select.go, the heap/index write
// sequencing from exec_insert.go/exec_update.go, merge-style join from
// storageengine/joins.go) behind the Node contract spec.md §4.7
// requires, since a reduced-SQL front end constructs these nodes into
// a tree rather than calling one flat function per statement kind.
package exec

import (
	"github.com/shivang/stratumdb/types"
)

// TabCol names a column by its owning table, used as the key for
// nested-loop join bindings (spec.md §4.7's feed(map<TabCol,Value>)).
type TabCol struct {
	Table string
	Col   string
}

// Tuple is one produced row, keyed by qualified column name so a join
// can hold columns from both sides without collision.
type Tuple map[TabCol]types.Value

// ColumnInfo describes one column a Node produces.
type ColumnInfo struct {
	Table string
	Def   types.ColumnDef
}

// Node is the volcano iterator contract every executor node
// implements.
type Node interface {
	BeginTuple() error
	NextTuple() error
	IsEnd() bool
	Next() Tuple
	GetBlock() ([]Tuple, error)
	Cols() []ColumnInfo
	Feed(bindings Tuple)
}

// Copy returns a shallow copy of t, used when merging two tuples for
// a join output without aliasing the original maps.
func (t Tuple) Copy() Tuple {
	out := make(Tuple, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Merge returns a new tuple containing every binding from t and other,
// with other's bindings taking precedence on key collision.
func (t Tuple) Merge(other Tuple) Tuple {
	out := t.Copy()
	for k, v := range other {
		out[k] = v
	}
	return out
}
