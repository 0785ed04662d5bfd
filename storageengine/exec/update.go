package exec

import (
	"bytes"
	"fmt"

	"github.com/shivang/stratumdb/storageengine/lockmgr"
	"github.com/shivang/stratumdb/storageengine/txnmgr"
	"github.com/shivang/stratumdb/storageengine/wal"
	"github.com/shivang/stratumdb/types"
)

// ArithOp is the operator of a `col = col ± value` SET clause.
type ArithOp int

const (
	ArithNone ArithOp = iota // col = value
	ArithAdd                 // col = col + value
	ArithSub                 // col = col - value
)

// SetClause is one `col = ...` entry of an UPDATE statement.
type SetClause struct {
	Col     string
	Op      ArithOp
	Operand types.Value // a literal for ArithNone/ArithAdd/ArithSub
}

// Update implements spec.md §4.7's UPDATE node: X-lock the table, then
// for the child scan's selected rows, first verify no new key collides
// with an existing or concurrently-produced key of a unique index,
// then apply each row's rewrite in place, logging the index and heap
// changes around it.
type Update struct {
	ctx    *Context
	table  string
	schema types.TableSchema
	child  Node
	sets   []SetClause

	cur   Tuple
	ended bool
}

func NewUpdate(ctx *Context, table string, child Node, sets []SetClause) (*Update, error) {
	schema, err := ctx.Cat.GetTableSchema(table)
	if err != nil {
		return nil, err
	}
	return &Update{ctx: ctx, table: table, schema: schema, child: child, sets: sets}, nil
}

func (n *Update) Feed(bindings Tuple) {}

func (n *Update) BeginTuple() error {
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

	// Pass 1: compute each row's new encoded bytes and new index keys,
	// then verify no unique index's new key collides with a
	// pre-existing key (other than the row being updated) or with
	// another row's new key in this same batch.
	type planned struct {
		rid     types.Rid
		oldBuf  []byte
		newBuf  []byte
		oldKeys map[string][]byte // index name -> pre-update key
		keys    map[string][]byte // index name -> new key
	}
	plans := make([]planned, 0, len(rows))
	seen := make(map[string]map[string]bool, len(indexes)) // index name -> new key string -> true

	for _, row := range rows {
		rid := RidOf(n.table, row)
		oldBuf, err := hf.GetRecord(rid)
		if err != nil {
			return fmt.Errorf("update %s: %w", n.table, err)
		}
		newBuf, err := n.applySets(oldBuf)
		if err != nil {
			return err
		}
		oldKeys := make(map[string][]byte, len(indexes))
		keys := make(map[string][]byte, len(indexes))
		for _, desc := range indexes {
			oldKey, err := encodeCompositeKey(n.schema, desc, oldBuf)
			if err != nil {
				return err
			}
			newKey, err := encodeCompositeKey(n.schema, desc, newBuf)
			if err != nil {
				return err
			}
			oldKeys[desc.Name] = oldKey
			keys[desc.Name] = newKey
			if !desc.Unique || bytes.Equal(oldKey, newKey) {
				continue
			}
			if seen[desc.Name] == nil {
				seen[desc.Name] = make(map[string]bool)
			}
			if seen[desc.Name][string(newKey)] {
				return fmt.Errorf("update %s: duplicate key for unique index %q within this update", n.table, desc.Name)
			}
			bt, err := n.ctx.indexFor(n.table, desc)
			if err != nil {
				return err
			}
			if _, err := bt.Search(newKey); err == nil {
				return fmt.Errorf("update %s: duplicate key for unique index %q", n.table, desc.Name)
			}
			seen[desc.Name][string(newKey)] = true
		}
		plans = append(plans, planned{rid: rid, oldBuf: oldBuf, newBuf: newBuf, oldKeys: oldKeys, keys: keys})
	}

	// Pass 2: apply, per rid: drop old index entries, rewrite the
	// slot, insert new index entries, log UPDATE.
	for _, p := range plans {
		for _, desc := range indexes {
			bt, err := n.ctx.indexFor(n.table, desc)
			if err != nil {
				return err
			}
			oldKey := p.oldKeys[desc.Name]
			if bytes.Equal(oldKey, p.keys[desc.Name]) {
				continue
			}
			lsn, err := n.ctx.TxnMgr.Log(n.ctx.Txn, &wal.LogRecord{Type: wal.DeleteEntry, IndexName: desc.Name, Key: oldKey, Rid: p.rid})
			if err != nil {
				return err
			}
			if err := bt.Delete(oldKey, lsn); err != nil {
				return fmt.Errorf("update %s: index %q: %w", n.table, desc.Name, err)
			}
			n.ctx.Txn.RecordIndexWrite(txnmgr.IndexWriteRecord{IndexName: desc.Name, Op: wal.DeleteEntry, Key: oldKey, Rid: p.rid})
		}

		lsn, err := n.ctx.TxnMgr.Log(n.ctx.Txn, &wal.LogRecord{Type: wal.Update, Table: n.table, Old: p.oldBuf, Value: p.newBuf, Rid: p.rid})
		if err != nil {
			return err
		}
		if err := hf.UpdateRecord(p.rid, p.newBuf, lsn); err != nil {
			return fmt.Errorf("update %s: %w", n.table, err)
		}
		n.ctx.Txn.RecordWrite(txnmgr.WriteRecord{Table: n.table, Op: wal.Update, Rid: p.rid, Old: p.oldBuf, New: p.newBuf})

		for _, desc := range indexes {
			oldKey := p.oldKeys[desc.Name]
			newKey := p.keys[desc.Name]
			if bytes.Equal(oldKey, newKey) {
				continue
			}
			bt, err := n.ctx.indexFor(n.table, desc)
			if err != nil {
				return err
			}
			lsn, err := n.ctx.TxnMgr.Log(n.ctx.Txn, &wal.LogRecord{Type: wal.InsertEntry, IndexName: desc.Name, Key: newKey, Rid: p.rid})
			if err != nil {
				return err
			}
			if err := bt.Insert(newKey, p.rid, lsn); err != nil {
				return fmt.Errorf("update %s: index %q: %w", n.table, desc.Name, err)
			}
			n.ctx.Txn.RecordIndexWrite(txnmgr.IndexWriteRecord{IndexName: desc.Name, Op: wal.InsertEntry, Key: newKey, Rid: p.rid})
		}
	}

	n.cur = Tuple{TabCol{Table: n.table, Col: "__count"}: types.IntValue(int32(len(plans)))}
	return nil
}

// applySets decodes buf, applies every SET clause (with col ± value
// arithmetic for int/float columns), and re-encodes.
func (n *Update) applySets(buf []byte) ([]byte, error) {
	out := append([]byte(nil), buf...)
	for _, set := range n.sets {
		col, ok := n.schema.ColumnByName(set.Col)
		if !ok {
			return nil, fmt.Errorf("update %s: unknown column %q", n.table, set.Col)
		}
		newVal := set.Operand
		if set.Op != ArithNone {
			cur, err := types.Decode(col, out[col.Offset:col.Offset+col.Width])
			if err != nil {
				return nil, err
			}
			newVal = arith(cur, set.Operand, set.Op)
		}
		enc, err := types.Encode(col, newVal)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", n.table, err)
		}
		copy(out[col.Offset:col.Offset+col.Width], enc)
	}
	return out, nil
}

func arith(cur, operand types.Value, op ArithOp) types.Value {
	if cur.Type == types.TypeFloat || operand.Type == types.TypeFloat {
		cf, _ := cur.AsFloat64()
		of, _ := operand.AsFloat64()
		if op == ArithAdd {
			return types.FloatValue(cf + of)
		}
		return types.FloatValue(cf - of)
	}
	ci, _ := cur.AsInt64()
	oi, _ := operand.AsInt64()
	if op == ArithAdd {
		return types.BigIntValue(ci + oi)
	}
	return types.BigIntValue(ci - oi)
}

func (n *Update) NextTuple() error {
	n.ended = true
	n.cur = nil
	return nil
}

func (n *Update) IsEnd() bool { return n.ended }
func (n *Update) Next() Tuple { return n.cur }

func (n *Update) GetBlock() ([]Tuple, error) {
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

func (n *Update) Cols() []ColumnInfo {
	return []ColumnInfo{{Table: n.table, Def: types.ColumnDef{Name: "__count", Type: types.TypeInt, Width: 4}}}
}
