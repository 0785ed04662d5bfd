package stratumql

import (
	"fmt"
	"strings"

	"github.com/shivang/stratumdb/storageengine"
	"github.com/shivang/stratumdb/storageengine/exec"
	"github.com/shivang/stratumdb/types"
)

// Result is the uniform outcome of Exec: either a row set (SELECT,
// SHOW, DESC), a row count (INSERT/DELETE/UPDATE), a plain message
// (DDL, transaction control, HELP), or a request to end the session
// (EXIT).
type Result struct {
	Columns []string
	Rows    [][]types.Value
	Count   int
	Message string
	Exit    bool
}

// Exec parses and runs one SQL statement against sess.
func Exec(sess *storageengine.Session, sql string) (Result, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return Result{}, err
	}
	return plan(sess, stmt)
}

func plan(sess *storageengine.Session, stmt Statement) (Result, error) {
	switch s := stmt.(type) {
	case CreateTableStmt:
		return planCreateTable(sess, s)
	case DropTableStmt:
		return Result{Message: "table dropped"}, sess.DropTable(s.Table)
	case CreateIndexStmt:
		return planCreateIndex(sess, s)
	case DropIndexStmt:
		name := indexName(s.Table, s.Columns)
		return Result{Message: "index dropped"}, sess.DropIndex(s.Table, name)
	case ShowTablesStmt:
		return planShowTables(sess), nil
	case ShowIndexStmt:
		return planShowIndex(sess, s)
	case DescStmt:
		return planDesc(sess, s)
	case InsertStmt:
		return planInsert(sess, s)
	case DeleteStmt:
		return planDelete(sess, s)
	case UpdateStmt:
		return planUpdate(sess, s)
	case SelectStmt:
		return planSelect(sess, s)
	case BeginStmt:
		return Result{Message: "transaction started"}, sess.Begin()
	case CommitStmt:
		return Result{Message: "transaction committed"}, sess.Commit()
	case AbortStmt:
		return Result{Message: "transaction aborted"}, sess.Abort()
	case HelpStmt:
		return Result{Message: helpText}, nil
	case ExitStmt:
		return Result{Exit: true}, nil
	}
	return Result{}, fmt.Errorf("stratumql: unhandled statement %T", stmt)
}

const helpText = `CREATE TABLE t (col TYPE[(n)] [PRIMARY KEY], ...);
DROP TABLE t;
CREATE [UNIQUE] INDEX t(col[,col...]);
DROP INDEX t(col[,col...]);
SHOW TABLES;
SHOW INDEX FROM t;
DESC t;
INSERT INTO t VALUES (...), (...);
DELETE FROM t [WHERE c];
UPDATE t SET col = val [, ...] [WHERE c];
SELECT (col,...|agg(col) AS name) FROM t[,t|JOIN t] [WHERE c] [ORDER BY col [ASC|DESC],...] [LIMIT n];
begin; commit; abort; rollback;
exit`

func indexName(table string, cols []string) string {
	return "idx_" + table + "_" + strings.Join(cols, "_")
}

func planCreateTable(sess *storageengine.Session, s CreateTableStmt) (Result, error) {
	cols := make([]types.ColumnDef, len(s.Columns))
	for i, c := range s.Columns {
		typ, width, err := types.ParseDataType(c.TypeName, c.Length)
		if err != nil {
			return Result{}, fmt.Errorf("stratumql: column %q: %w", c.Name, err)
		}
		cols[i] = types.ColumnDef{Name: c.Name, Type: typ, Width: width, IsPrimaryKey: c.IsPrimaryKey}
	}
	return Result{Message: "table created"}, sess.CreateTable(s.Table, cols)
}

func planCreateIndex(sess *storageengine.Session, s CreateIndexStmt) (Result, error) {
	name := indexName(s.Table, s.Columns)
	return Result{Message: "index created"}, sess.CreateIndex(name, s.Table, s.Columns, s.Unique)
}

func planShowTables(sess *storageengine.Session) Result {
	tables := sess.ShowTables()
	rows := make([][]types.Value, len(tables))
	for i, t := range tables {
		rows[i] = []types.Value{types.CharValue(t)}
	}
	return Result{Columns: []string{"table"}, Rows: rows}
}

func planShowIndex(sess *storageengine.Session, s ShowIndexStmt) (Result, error) {
	descs, err := sess.ShowIndexFrom(s.Table)
	if err != nil {
		return Result{}, err
	}
	rows := make([][]types.Value, len(descs))
	for i, d := range descs {
		rows[i] = []types.Value{
			types.CharValue(d.Name),
			types.CharValue(strings.Join(d.Columns, ",")),
			types.CharValue(fmt.Sprintf("%v", d.Unique)),
		}
	}
	return Result{Columns: []string{"name", "columns", "unique"}, Rows: rows}, nil
}

func planDesc(sess *storageengine.Session, s DescStmt) (Result, error) {
	schema, err := sess.Describe(s.Table)
	if err != nil {
		return Result{}, err
	}
	rows := make([][]types.Value, len(schema.Columns))
	for i, c := range schema.Columns {
		rows[i] = []types.Value{
			types.CharValue(c.Name),
			types.CharValue(c.Type.String()),
			types.IntValue(int32(c.Width)),
		}
	}
	return Result{Columns: []string{"column", "type", "width"}, Rows: rows}, nil
}

func planInsert(sess *storageengine.Session, s InsertStmt) (Result, error) {
	schema, err := sess.Describe(s.Table)
	if err != nil {
		return Result{}, err
	}
	for _, row := range s.Rows {
		if len(row) != len(schema.Columns) {
			return Result{}, fmt.Errorf("stratumql: insert into %s: expected %d values, got %d", s.Table, len(schema.Columns), len(row))
		}
		values := make([]types.Value, len(row))
		for i, v := range row {
			values[i] = coerce(schema.Columns[i].Type, v)
		}
		if err := sess.Insert(s.Table, values); err != nil {
			return Result{}, err
		}
	}
	return Result{Count: len(s.Rows), Message: "rows inserted"}, nil
}

// coerce applies spec.md §6's INT/BIGINT/FLOAT literal coercions at
// bind time: every integer literal lexes as BIGINT (parser.go has no
// column context to pick INT directly), narrowed here to the target
// column's declared width.
func coerce(typ types.DataType, v types.Value) types.Value {
	switch typ {
	case types.TypeInt:
		if i, ok := v.AsInt64(); ok {
			return types.IntValue(int32(i))
		}
	case types.TypeBigInt:
		if i, ok := v.AsInt64(); ok {
			return types.BigIntValue(i)
		}
	case types.TypeFloat:
		if f, ok := v.AsFloat64(); ok {
			return types.FloatValue(f)
		}
	}
	return v
}

func planDelete(sess *storageengine.Session, s DeleteStmt) (Result, error) {
	schema, err := sess.Describe(s.Table)
	if err != nil {
		return Result{}, err
	}
	preds, err := buildPredicates(s.Table, schema, s.Where)
	if err != nil {
		return Result{}, err
	}
	count, err := sess.Delete(s.Table, preds)
	return Result{Count: count, Message: "rows deleted"}, err
}

func planUpdate(sess *storageengine.Session, s UpdateStmt) (Result, error) {
	schema, err := sess.Describe(s.Table)
	if err != nil {
		return Result{}, err
	}
	preds, err := buildPredicates(s.Table, schema, s.Where)
	if err != nil {
		return Result{}, err
	}
	sets := make([]exec.SetClause, len(s.Sets))
	for i, set := range s.Sets {
		cd, ok := schema.ColumnByName(set.Col)
		if !ok {
			return Result{}, fmt.Errorf("stratumql: update %s: unknown column %q", s.Table, set.Col)
		}
		var op exec.ArithOp
		switch set.Op {
		case SetAdd:
			op = exec.ArithAdd
		case SetSub:
			op = exec.ArithSub
		default:
			op = exec.ArithNone
		}
		sets[i] = exec.SetClause{Col: set.Col, Op: op, Operand: coerce(cd.Type, set.Value)}
	}
	count, err := sess.Update(s.Table, preds, sets)
	return Result{Count: count, Message: "rows updated"}, err
}

func buildPredicates(table string, schema types.TableSchema, conds []Condition) ([]exec.Predicate, error) {
	preds := make([]exec.Predicate, len(conds))
	for i, c := range conds {
		leftTable := c.Left.Table
		if leftTable == "" {
			leftTable = table
		}
		p := exec.Predicate{Left: exec.TabCol{Table: leftTable, Col: c.Left.Col}, Op: condOp(c.Op)}
		if c.RightIsCol {
			rightTable := c.RightCol.Table
			if rightTable == "" {
				rightTable = table
			}
			p.RightIsCol = true
			p.RightCol = exec.TabCol{Table: rightTable, Col: c.RightCol.Col}
		} else {
			cd, ok := schema.ColumnByName(c.Left.Col)
			if !ok {
				return nil, fmt.Errorf("stratumql: %s: unknown column %q", table, c.Left.Col)
			}
			p.RightVal = coerce(cd.Type, c.RightVal)
		}
		preds[i] = p
	}
	return preds, nil
}

func condOp(op CondOp) exec.Op {
	switch op {
	case CondEq:
		return exec.OpEq
	case CondNe:
		return exec.OpNe
	case CondLt:
		return exec.OpLt
	case CondLe:
		return exec.OpLe
	case CondGt:
		return exec.OpGt
	case CondGe:
		return exec.OpGe
	}
	return exec.OpEq
}

// defaultItemTables fills in each unqualified select-item and
// order-by column's table with the sole table named in a single-table
// FROM clause, since `SELECT v FROM t WHERE id = 2` (spec.md §6's
// index point-lookup scenario) never qualifies its columns.
func defaultItemTables(s *SelectStmt) {
	if len(s.Tables) != 1 {
		return
	}
	table := s.Tables[0]
	for i := range s.Items {
		if !s.Items[i].Star && s.Items[i].Table == "" {
			s.Items[i].Table = table
		}
	}
	for i := range s.OrderBy {
		if s.OrderBy[i].Table == "" {
			s.OrderBy[i].Table = table
		}
	}
}

func planSelect(sess *storageengine.Session, s SelectStmt) (Result, error) {
	defaultItemTables(&s)
	rows, err := sess.Select(func(ctx *exec.Context) (exec.Node, error) {
		return buildSelectPlan(ctx, s)
	})
	if err != nil {
		return Result{}, err
	}

	cols, err := selectColumns(sess, s)
	if err != nil {
		return Result{}, err
	}
	outRows := make([][]types.Value, len(rows))
	for i, row := range rows {
		outRows[i] = make([]types.Value, len(cols))
		for j, tc := range cols {
			outRows[i][j] = row[tc]
		}
	}
	names := make([]string, len(cols))
	for i, tc := range cols {
		names[i] = tc.Col
	}
	return Result{Columns: names, Rows: outRows}, nil
}

// selectColumns resolves each SelectItem to the TabCol its Projection
// output was keyed under, expanding a `SELECT *` into every column of
// every table named in the FROM clause, in declared order.
func selectColumns(sess *storageengine.Session, s SelectStmt) ([]exec.TabCol, error) {
	if len(s.Items) == 1 && s.Items[0].Star {
		var cols []exec.TabCol
		for _, t := range s.Tables {
			schema, err := sess.Describe(t)
			if err != nil {
				return nil, err
			}
			for _, c := range schema.Columns {
				cols = append(cols, exec.TabCol{Table: t, Col: c.Name})
			}
		}
		return cols, nil
	}
	cols := make([]exec.TabCol, len(s.Items))
	for i, it := range s.Items {
		cols[i] = exec.TabCol{Table: "", Col: it.Alias}
	}
	return cols, nil
}

// buildSelectPlan assembles the Node tree: scan(s), optional join,
// optional aggregate, optional sort, final projection, per spec.md
// §4.7's pipeline ordering (scan/join -> aggregate -> sort ->
// project). An equality predicate on an index's leading column
// upgrades a single-table scan to an IndexScan.
func buildSelectPlan(ctx *exec.Context, s SelectStmt) (exec.Node, error) {
	var node exec.Node
	var err error

	if len(s.Tables) == 2 {
		node, err = buildJoin(ctx, s)
	} else {
		table := s.Tables[0]
		preds, perr := predsForTable(ctx, table, s.Where)
		if perr != nil {
			return nil, perr
		}
		node, err = buildScan(ctx, table, preds)
	}
	if err != nil {
		return nil, err
	}

	if agg, ok := soleAggregate(s.Items); ok {
		node = exec.NewAggregate(node, agg.fn, agg.col, agg.result)
	}

	if len(s.OrderBy) > 0 {
		keys := make([]exec.SortKey, len(s.OrderBy))
		for i, o := range s.OrderBy {
			keys[i] = exec.SortKey{Col: exec.TabCol{Table: o.Table, Col: o.Col}, Desc: o.Desc}
		}
		node = exec.NewSort(node, keys)
	}

	items, err := projectionItems(s)
	if err != nil {
		return nil, err
	}
	if items != nil {
		node = exec.NewProjection(node, items)
	}
	if s.Limit != nil {
		node = newLimit(node, *s.Limit)
	}
	return node, nil
}

func predsForTable(ctx *exec.Context, table string, conds []Condition) ([]exec.Predicate, error) {
	schema, err := ctx.Cat.GetTableSchema(table)
	if err != nil {
		return nil, err
	}
	return buildPredicates(table, schema, conds)
}

// buildScan picks an IndexScan when an equality predicate targets the
// leading column of one of table's indexes, falling back to SeqScan
// otherwise, per spec.md §4.7's plan-selection note.
func buildScan(ctx *exec.Context, table string, preds []exec.Predicate) (exec.Node, error) {
	for _, desc := range ctx.Cat.IndexesForTable(table) {
		for _, p := range preds {
			if p.Op != exec.OpEq || p.RightIsCol || p.Left.Col != desc.Columns[0] {
				continue
			}
			schema, err := ctx.Cat.GetTableSchema(table)
			if err != nil {
				return nil, err
			}
			cd, ok := schema.ColumnByName(desc.Columns[0])
			if !ok {
				continue
			}
			key, err := types.Encode(cd, p.RightVal)
			if err != nil {
				return nil, err
			}
			return exec.NewIndexScan(ctx, table, desc, key, preds)
		}
	}
	return exec.NewSeqScan(ctx, table, preds)
}

func buildJoin(ctx *exec.Context, s SelectStmt) (exec.Node, error) {
	outerTable, innerTable := s.Tables[0], s.Tables[1]
	var outerConds, innerConds, joinConds []Condition
	for _, c := range s.Where {
		lt := c.Left.Table
		if c.RightIsCol {
			rt := c.RightCol.Table
			if lt != rt {
				joinConds = append(joinConds, c)
				continue
			}
		}
		if lt == innerTable {
			innerConds = append(innerConds, c)
		} else {
			outerConds = append(outerConds, c)
		}
	}
	outerPreds, err := predsForTable(ctx, outerTable, outerConds)
	if err != nil {
		return nil, err
	}
	innerPreds, err := predsForTable(ctx, innerTable, innerConds)
	if err != nil {
		return nil, err
	}
	outer, err := buildScan(ctx, outerTable, outerPreds)
	if err != nil {
		return nil, err
	}
	inner, err := buildScan(ctx, innerTable, innerPreds)
	if err != nil {
		return nil, err
	}
	joinPreds := make([]exec.Predicate, 0, len(joinConds))
	for _, c := range joinConds {
		lt := c.Left.Table
		p := exec.Predicate{Left: exec.TabCol{Table: lt, Col: c.Left.Col}, Op: condOp(c.Op), RightIsCol: true, RightCol: exec.TabCol{Table: c.RightCol.Table, Col: c.RightCol.Col}}
		if p.Left.Table == innerTable {
			p = p.Flip()
		}
		joinPreds = append(joinPreds, p)
	}
	return exec.NewNestedLoopJoin(outer, inner, joinPreds), nil
}

type aggPlan struct {
	fn     exec.AggFunc
	col    exec.TabCol
	result exec.TabCol
}

func soleAggregate(items []SelectItem) (aggPlan, bool) {
	if len(items) != 1 || items[0].Agg == "" {
		return aggPlan{}, false
	}
	it := items[0]
	var fn exec.AggFunc
	switch it.Agg {
	case "SUM":
		fn = exec.AggSum
	case "MIN":
		fn = exec.AggMin
	case "MAX":
		fn = exec.AggMax
	case "COUNT":
		fn = exec.AggCount
	default:
		return aggPlan{}, false
	}
	return aggPlan{fn: fn, col: exec.TabCol{Table: it.Table, Col: it.Col}, result: exec.TabCol{Col: it.Alias}}, true
}

func projectionItems(s SelectStmt) ([]exec.ProjItem, error) {
	if len(s.Items) == 1 && s.Items[0].Star {
		return nil, nil
	}
	if _, ok := soleAggregate(s.Items); ok {
		it := s.Items[0]
		return []exec.ProjItem{{Src: exec.TabCol{Col: it.Alias}, Alias: exec.TabCol{Col: it.Alias}}}, nil
	}
	items := make([]exec.ProjItem, len(s.Items))
	for i, it := range s.Items {
		items[i] = exec.ProjItem{Src: exec.TabCol{Table: it.Table, Col: it.Col}, Alias: exec.TabCol{Col: it.Alias}}
	}
	return items, nil
}

// limit wraps a child Node and stops after n rows, per spec.md §6's
// `LIMIT n` clause (no dedicated exec.Node exists for it since it is a
// front-end-only concern, not part of the volcano pipeline spec.md
// §4.7 enumerates).
type limit struct {
	child exec.Node
	n, i  int
}

func newLimit(child exec.Node, n int) *limit { return &limit{child: child, n: n} }

func (l *limit) Feed(b exec.Tuple) { l.child.Feed(b) }

func (l *limit) BeginTuple() error {
	if err := l.child.BeginTuple(); err != nil {
		return err
	}
	return nil
}

func (l *limit) NextTuple() error {
	l.i++
	return l.child.NextTuple()
}

func (l *limit) IsEnd() bool { return l.i >= l.n || l.child.IsEnd() }
func (l *limit) Next() exec.Tuple { return l.child.Next() }

func (l *limit) GetBlock() ([]exec.Tuple, error) {
	var block []exec.Tuple
	for !l.IsEnd() {
		block = append(block, l.Next())
		if err := l.NextTuple(); err != nil {
			return nil, err
		}
	}
	return block, nil
}

func (l *limit) Cols() []exec.ColumnInfo { return l.child.Cols() }
