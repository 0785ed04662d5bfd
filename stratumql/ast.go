package stratumql

import "github.com/shivang/stratumdb/types"

// Statement is any parsed SQL statement, dispatched by concrete type
// in planner.go, mirroring DaemonDB/query_parser/parser/ast.go's
// `Statement interface{}` marker.
type Statement interface{ stratumqlStmt() }

// ColumnDef is one `name TYPE[(n)] [PRIMARY KEY]` entry of a CREATE
// TABLE statement.
type ColumnDef struct {
	Name         string
	TypeName     string
	Length       int
	IsPrimaryKey bool
}

type CreateTableStmt struct {
	Table   string
	Columns []ColumnDef
}

type DropTableStmt struct {
	Table string
}

// CreateIndexStmt is `CREATE [UNIQUE] INDEX t(col[,col...])` — spec.md
// §6's test scenarios name no separate index identifier, so the
// planner derives one deterministically from table+columns.
type CreateIndexStmt struct {
	Table   string
	Columns []string
	Unique  bool
}

type DropIndexStmt struct {
	Table   string
	Columns []string
}

type ShowTablesStmt struct{}

type ShowIndexStmt struct {
	Table string
}

type DescStmt struct {
	Table string
}

type InsertStmt struct {
	Table string
	Rows  [][]types.Value
}

// ColRef names a column, optionally qualified by table (`t.col`).
type ColRef struct {
	Table string
	Col   string
}

// CondOp is a WHERE/ON/JOIN comparison operator.
type CondOp int

const (
	CondEq CondOp = iota
	CondNe
	CondLt
	CondLe
	CondGt
	CondGe
)

// Condition is one `col op {col|value}` clause. Multiple Conditions in
// a Where slice are implicitly AND-ed, per spec.md §6's predicate
// grammar.
type Condition struct {
	Left       ColRef
	Op         CondOp
	RightIsCol bool
	RightCol   ColRef
	RightVal   types.Value
}

type DeleteStmt struct {
	Table string
	Where []Condition
}

// SetOp is the arithmetic form of an UPDATE SET clause's right-hand
// side: `col = value`, `col = col + value`, `col = col - value`.
type SetOp int

const (
	SetAssign SetOp = iota
	SetAdd
	SetSub
)

type SetClause struct {
	Col   string
	Op    SetOp
	Value types.Value
}

type UpdateStmt struct {
	Table string
	Sets  []SetClause
	Where []Condition
}

// SelectItem is one projected column or aggregate, per spec.md §6's
// `(col,...|agg(col) AS name)` select-list grammar.
type SelectItem struct {
	Star  bool
	Table string
	Col   string
	Agg   string // "", "SUM", "MIN", "MAX", "COUNT"
	Alias string
}

type OrderItem struct {
	Table string
	Col   string
	Desc  bool
}

type SelectStmt struct {
	Items   []SelectItem
	Tables  []string // one or two entries: FROM t or FROM t1, t2 / JOIN t2
	Where   []Condition
	OrderBy []OrderItem
	Limit   *int
}

type BeginStmt struct{}
type CommitStmt struct{}
type AbortStmt struct{}
type HelpStmt struct{}
type ExitStmt struct{}

func (CreateTableStmt) stratumqlStmt() {}
func (DropTableStmt) stratumqlStmt()   {}
func (CreateIndexStmt) stratumqlStmt() {}
func (DropIndexStmt) stratumqlStmt()   {}
func (ShowTablesStmt) stratumqlStmt()  {}
func (ShowIndexStmt) stratumqlStmt()   {}
func (DescStmt) stratumqlStmt()        {}
func (InsertStmt) stratumqlStmt()      {}
func (DeleteStmt) stratumqlStmt()      {}
func (UpdateStmt) stratumqlStmt()      {}
func (SelectStmt) stratumqlStmt()      {}
func (BeginStmt) stratumqlStmt()       {}
func (CommitStmt) stratumqlStmt()      {}
func (AbortStmt) stratumqlStmt()       {}
func (HelpStmt) stratumqlStmt()        {}
func (ExitStmt) stratumqlStmt()        {}
