package exec

import (
	"github.com/shivang/stratumdb/storageengine/access/bplustree"
	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/storageengine/lockmgr"
	"github.com/shivang/stratumdb/types"
)

// IndexScan positions an IxScan at the probe key built from equality
// (or a single trailing `>`) predicates on the index's leading
// columns, per spec.md §4.7, and stops at the first record whose
// remaining predicates fail (assumes the predicates are monotone on
// the index's sort order).
type IndexScan struct {
	ctx    *Context
	table  string
	schema types.TableSchema
	desc   types.IndexDescriptor
	preds  []Predicate // the full conjunction, re-checked per candidate
	colTy  map[TabCol]types.DataType

	hf       *heapfile.HeapFile
	scan     *bplustree.IxScan
	bindings Tuple
	cur      Tuple
	ended    bool
}

func NewIndexScan(ctx *Context, table string, desc types.IndexDescriptor, probeKey []byte, preds []Predicate) (*IndexScan, error) {
	schema, err := ctx.Cat.GetTableSchema(table)
	if err != nil {
		return nil, err
	}
	colTy := make(map[TabCol]types.DataType, len(schema.Columns))
	for _, c := range schema.Columns {
		colTy[TabCol{Table: table, Col: c.Name}] = c.Type
	}
	is := &IndexScan{ctx: ctx, table: table, schema: schema, desc: desc, preds: preds, colTy: colTy}
	return is, is.open(probeKey)
}

func (s *IndexScan) open(probeKey []byte) error {
	bt, err := s.ctx.indexFor(s.table, s.desc)
	if err != nil {
		return err
	}
	hf, err := s.ctx.heapFor(s.table)
	if err != nil {
		return err
	}
	s.hf = hf
	start, err := bt.LeafBegin(probeKey)
	if err != nil {
		return err
	}
	s.scan = bt.NewScan(start, bt.LeafEnd())
	return nil
}

func (s *IndexScan) Feed(bindings Tuple) { s.bindings = bindings }

func (s *IndexScan) BeginTuple() error {
	if err := s.ctx.TxnMgr.Lock(s.ctx.Txn, s.table, lockmgr.ModeS); err != nil {
		return err
	}
	return s.advance()
}

func (s *IndexScan) NextTuple() error { return s.advance() }

func (s *IndexScan) advance() error {
	_, rid, ok, err := s.scan.Next()
	if err != nil {
		return err
	}
	if !ok {
		s.ended = true
		s.cur = nil
		return nil
	}
	buf, err := s.hf.GetRecord(rid)
	if err != nil {
		s.ended = true
		s.cur = nil
		return nil
	}
	row := make(Tuple, len(s.schema.Columns)+1)
	for _, c := range s.schema.Columns {
		v, err := types.Decode(c, buf[c.Offset:c.Offset+c.Width])
		if err != nil {
			return err
		}
		row[TabCol{Table: s.table, Col: c.Name}] = v
	}
	row[TabCol{Table: s.table, Col: "__rid_page"}] = types.IntValue(rid.PageNo)
	row[TabCol{Table: s.table, Col: "__rid_slot"}] = types.IntValue(rid.Slot)

	merged := row
	if s.bindings != nil {
		merged = row.Merge(s.bindings)
	}
	for _, p := range s.preds {
		ok, err := Eval(p, merged, s.colTy)
		if err != nil {
			return err
		}
		if !ok {
			// Monotone sort order: the first failure ends the scan.
			s.ended = true
			s.cur = nil
			return nil
		}
	}
	s.cur = row
	return nil
}

func (s *IndexScan) IsEnd() bool { return s.ended }
func (s *IndexScan) Next() Tuple { return s.cur }

func (s *IndexScan) GetBlock() ([]Tuple, error) {
	var block []Tuple
	for !s.IsEnd() {
		if s.cur != nil {
			block = append(block, s.cur)
		}
		if err := s.NextTuple(); err != nil {
			return nil, err
		}
	}
	return block, nil
}

func (s *IndexScan) Cols() []ColumnInfo {
	cols := make([]ColumnInfo, len(s.schema.Columns))
	for i, c := range s.schema.Columns {
		cols[i] = ColumnInfo{Table: s.table, Def: c}
	}
	return cols
}
