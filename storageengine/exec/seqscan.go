package exec

import (
	"fmt"

	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/storageengine/lockmgr"
	"github.com/shivang/stratumdb/types"
)

// SeqScan implements spec.md §4.7's sequential scan: S-lock the table,
// iterate the heap, keep only records whose predicate conjunction
// holds.
//
// Grounded on DaemonDB/query_executor/exec_select.go's per-row
// predicate evaluation, adapted from its flat loop over
// []map[string]interface{} into the pull-based Node contract.
type SeqScan struct {
	ctx    *Context
	table  string
	schema types.TableSchema
	preds  []Predicate
	colTy  map[TabCol]types.DataType

	hf       *heapfile.HeapFile
	iter     *heapfile.ScanIterator
	bindings Tuple
	cur      Tuple
	ended    bool
}

func NewSeqScan(ctx *Context, table string, preds []Predicate) (*SeqScan, error) {
	schema, err := ctx.Cat.GetTableSchema(table)
	if err != nil {
		return nil, err
	}
	colTy := make(map[TabCol]types.DataType, len(schema.Columns))
	for _, c := range schema.Columns {
		colTy[TabCol{Table: table, Col: c.Name}] = c.Type
	}
	return &SeqScan{ctx: ctx, table: table, schema: schema, preds: preds, colTy: colTy}, nil
}

func (s *SeqScan) Feed(bindings Tuple) { s.bindings = bindings }

func (s *SeqScan) BeginTuple() error {
	if err := s.ctx.TxnMgr.Lock(s.ctx.Txn, s.table, lockmgr.ModeS); err != nil {
		return err
	}
	hf, err := s.ctx.heapFor(s.table)
	if err != nil {
		return err
	}
	s.hf = hf
	s.ended = false
	s.iter = hf.Scan()
	return s.advance()
}

func (s *SeqScan) NextTuple() error { return s.advance() }

// advance pulls records from the heap scan until one satisfies every
// predicate, or the heap is exhausted.
func (s *SeqScan) advance() error {
	for {
		rid, buf, ok, err := s.iter.Next()
		if err != nil {
			return err
		}
		if !ok {
			s.ended = true
			s.cur = nil
			return nil
		}
		row, err := s.decodeRow(rid, buf)
		if err != nil {
			return err
		}
		merged := row
		if s.bindings != nil {
			merged = row.Merge(s.bindings)
		}
		match := true
		for _, p := range s.preds {
			ok, err := Eval(p, merged, s.colTy)
			if err != nil {
				return err
			}
			if !ok {
				match = false
				break
			}
		}
		if match {
			s.cur = row
			return nil
		}
	}
}

func (s *SeqScan) decodeRow(rid types.Rid, buf []byte) (Tuple, error) {
	row := make(Tuple, len(s.schema.Columns)+1)
	for _, c := range s.schema.Columns {
		v, err := types.Decode(c, buf[c.Offset:c.Offset+c.Width])
		if err != nil {
			return nil, fmt.Errorf("seqscan: decode %s.%s: %w", s.table, c.Name, err)
		}
		row[TabCol{Table: s.table, Col: c.Name}] = v
	}
	row[TabCol{Table: s.table, Col: "__rid_page"}] = types.IntValue(rid.PageNo)
	row[TabCol{Table: s.table, Col: "__rid_slot"}] = types.IntValue(rid.Slot)
	return row, nil
}

func (s *SeqScan) IsEnd() bool { return s.ended }
func (s *SeqScan) Next() Tuple { return s.cur }

func (s *SeqScan) GetBlock() ([]Tuple, error) {
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

func (s *SeqScan) Cols() []ColumnInfo {
	cols := make([]ColumnInfo, len(s.schema.Columns))
	for i, c := range s.schema.Columns {
		cols[i] = ColumnInfo{Table: s.table, Def: c}
	}
	return cols
}

// RidOf extracts the heap Rid this library stashed in a tuple produced
// by SeqScan/IndexScan, for callers (Delete/Update) that need it.
func RidOf(table string, row Tuple) types.Rid {
	page := row[TabCol{Table: table, Col: "__rid_page"}].I32
	slot := row[TabCol{Table: table, Col: "__rid_slot"}].I32
	return types.Rid{PageNo: page, Slot: slot}
}
