package exec

import (
	"fmt"

	"github.com/shivang/stratumdb/storageengine/lockmgr"
	"github.com/shivang/stratumdb/storageengine/txnmgr"
	"github.com/shivang/stratumdb/storageengine/wal"
	"github.com/shivang/stratumdb/stratumerr"
	"github.com/shivang/stratumdb/types"
)

// Insert implements spec.md §4.7's INSERT node: X-lock the table,
// type-check and serialize the row, verify it doesn't collide with any
// unique index, log and apply the heap write, then log and apply each
// index write. Like Aggregate, it produces exactly one output tuple
// (the inserted row, keyed under its table) for a statement result.
//
// Grounded on DaemonDB/storage_engine/query_executor/exec_insert.go's
// overall shape (lock, encode, append to heap, update every index),
// adapted to also append WAL log records and undo-list entries, which
// the teacher's insert path does not do at all.
type Insert struct {
	ctx    *Context
	table  string
	schema types.TableSchema
	values []types.Value // positional, same order as schema.Columns

	cur   Tuple
	ended bool
}

func NewInsert(ctx *Context, table string, values []types.Value) (*Insert, error) {
	schema, err := ctx.Cat.GetTableSchema(table)
	if err != nil {
		return nil, err
	}
	if len(values) != len(schema.Columns) {
		return nil, stratumerr.ErrInvalidValueCount
	}
	return &Insert{ctx: ctx, table: table, schema: schema, values: values}, nil
}

func (n *Insert) Feed(bindings Tuple) {}

func (n *Insert) BeginTuple() error {
	if err := n.ctx.TxnMgr.Lock(n.ctx.Txn, n.table, lockmgr.ModeX); err != nil {
		return err
	}

	buf := make([]byte, n.schema.RecordSize)
	for i, col := range n.schema.Columns {
		enc, err := types.Encode(col, n.values[i])
		if err != nil {
			return fmt.Errorf("insert into %s: %w", n.table, err)
		}
		copy(buf[col.Offset:col.Offset+col.Width], enc)
	}

	indexes := n.ctx.Cat.IndexesForTable(n.table)
	keys := make([][]byte, len(indexes))
	for i, desc := range indexes {
		key, err := encodeCompositeKey(n.schema, desc, buf)
		if err != nil {
			return err
		}
		keys[i] = key
		if !desc.Unique {
			continue
		}
		bt, err := n.ctx.indexFor(n.table, desc)
		if err != nil {
			return err
		}
		if _, err := bt.Search(key); err == nil {
			return fmt.Errorf("insert into %s: duplicate key for unique index %q", n.table, desc.Name)
		}
	}

	hf, err := n.ctx.heapFor(n.table)
	if err != nil {
		return err
	}
	rid, err := hf.ReserveSlot()
	if err != nil {
		return fmt.Errorf("insert into %s: %w", n.table, err)
	}
	lsn, err := n.ctx.TxnMgr.Log(n.ctx.Txn, &wal.LogRecord{Type: wal.Insert, Table: n.table, Value: buf, Rid: rid})
	if err != nil {
		return err
	}
	if err := hf.InsertAtReserved(rid, buf, lsn); err != nil {
		return fmt.Errorf("insert into %s: %w", n.table, err)
	}
	n.ctx.Txn.RecordWrite(txnmgr.WriteRecord{Table: n.table, Op: wal.Insert, Rid: rid, New: buf})

	for i, desc := range indexes {
		bt, err := n.ctx.indexFor(n.table, desc)
		if err != nil {
			return err
		}
		lsn, err := n.ctx.TxnMgr.Log(n.ctx.Txn, &wal.LogRecord{Type: wal.InsertEntry, IndexName: desc.Name, Key: keys[i], Rid: rid})
		if err != nil {
			return err
		}
		if err := bt.Insert(keys[i], rid, lsn); err != nil {
			return fmt.Errorf("insert into %s: index %q: %w", n.table, desc.Name, err)
		}
		n.ctx.Txn.RecordIndexWrite(txnmgr.IndexWriteRecord{IndexName: desc.Name, Op: wal.InsertEntry, Key: keys[i], Rid: rid})
	}

	row := make(Tuple, len(n.schema.Columns))
	for _, col := range n.schema.Columns {
		v, err := types.Decode(col, buf[col.Offset:col.Offset+col.Width])
		if err != nil {
			return err
		}
		row[TabCol{Table: n.table, Col: col.Name}] = v
	}
	n.cur = row
	return nil
}

func (n *Insert) NextTuple() error {
	n.ended = true
	n.cur = nil
	return nil
}

func (n *Insert) IsEnd() bool { return n.ended }
func (n *Insert) Next() Tuple { return n.cur }

func (n *Insert) GetBlock() ([]Tuple, error) {
	if n.cur == nil && !n.ended {
		if err := n.BeginTuple(); err != nil {
			return nil, err
		}
	}
	if n.cur == nil {
		return nil, nil
	}
	return []Tuple{n.cur}, nil
}

func (n *Insert) Cols() []ColumnInfo {
	cols := make([]ColumnInfo, len(n.schema.Columns))
	for i, c := range n.schema.Columns {
		cols[i] = ColumnInfo{Table: n.table, Def: c}
	}
	return cols
}
