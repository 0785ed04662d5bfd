package exec

import (
	"fmt"

	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/storageengine/lockmgr"
	"github.com/shivang/stratumdb/storageengine/txnmgr"
	"github.com/shivang/stratumdb/storageengine/wal"
	"github.com/shivang/stratumdb/types"
)

// Delete implements spec.md §4.7's DELETE node: X-lock the table, then
// for every rid its child scan selected, log + erase each index entry,
// log the heap delete, and remove the record. The single output tuple
// carries the row count under result.
type Delete struct {
	ctx    *Context
	table  string
	schema types.TableSchema
	child  Node

	cur   Tuple
	ended bool
}

func NewDelete(ctx *Context, table string, child Node) (*Delete, error) {
	schema, err := ctx.Cat.GetTableSchema(table)
	if err != nil {
		return nil, err
	}
	return &Delete{ctx: ctx, table: table, schema: schema, child: child}, nil
}

func (n *Delete) Feed(bindings Tuple) {}

func (n *Delete) BeginTuple() error {
	if err := n.ctx.TxnMgr.Lock(n.ctx.Txn, n.table, lockmgr.ModeX); err != nil {
		return err
	}
	if err := n.child.BeginTuple(); err != nil {
		return err
	}
	rows, err := n.child.GetBlock()
	if err != nil {
		return err
	}

	hf, err := n.ctx.heapFor(n.table)
	if err != nil {
		return err
	}
	indexes := n.ctx.Cat.IndexesForTable(n.table)
	count := 0
	for _, row := range rows {
		if err := n.deleteOne(hf, indexes, row); err != nil {
			return err
		}
		count++
	}

	n.cur = Tuple{TabCol{Table: n.table, Col: "__count"}: types.IntValue(int32(count))}
	return nil
}

func (n *Delete) deleteOne(hf *heapfile.HeapFile, indexes []types.IndexDescriptor, row Tuple) error {
	rid := RidOf(n.table, row)
	buf, err := hf.GetRecord(rid)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", n.table, err)
	}

	for _, desc := range indexes {
		bt, err := n.ctx.indexFor(n.table, desc)
		if err != nil {
			return err
		}
		key, err := encodeCompositeKey(n.schema, desc, buf)
		if err != nil {
			return err
		}
		lsn, err := n.ctx.TxnMgr.Log(n.ctx.Txn, &wal.LogRecord{Type: wal.DeleteEntry, IndexName: desc.Name, Key: key, Rid: rid})
		if err != nil {
			return err
		}
		if err := bt.Delete(key, lsn); err != nil {
			return fmt.Errorf("delete from %s: index %q: %w", n.table, desc.Name, err)
		}
		n.ctx.Txn.RecordIndexWrite(txnmgr.IndexWriteRecord{IndexName: desc.Name, Op: wal.DeleteEntry, Key: key, Rid: rid})
	}

	lsn, err := n.ctx.TxnMgr.Log(n.ctx.Txn, &wal.LogRecord{Type: wal.Delete, Table: n.table, Value: buf, Rid: rid})
	if err != nil {
		return err
	}
	if err := hf.DeleteRecord(rid, lsn); err != nil {
		return fmt.Errorf("delete from %s: %w", n.table, err)
	}
	n.ctx.Txn.RecordWrite(txnmgr.WriteRecord{Table: n.table, Op: wal.Delete, Rid: rid, Old: buf})
	return nil
}

func (n *Delete) NextTuple() error {
	n.ended = true
	n.cur = nil
	return nil
}

func (n *Delete) IsEnd() bool { return n.ended }
func (n *Delete) Next() Tuple { return n.cur }

func (n *Delete) GetBlock() ([]Tuple, error) {
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

func (n *Delete) Cols() []ColumnInfo {
	return []ColumnInfo{{Table: n.table, Def: types.ColumnDef{Name: "__count", Type: types.TypeInt, Width: 4}}}
}
