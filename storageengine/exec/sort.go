package exec

import (
	"sort"

	"github.com/shivang/stratumdb/types"
)

// SortKey is one `(col, direction)` entry, earliest-listed most
// significant, per spec.md §4.7.
type SortKey struct {
	Col  TabCol
	Desc bool
}

// Sort consumes its child's block fully, then yields rows in sorted
// order. Grounded on DaemonDB/storage_engine/joins.go's
// sortRowsByColumn use of stdlib sort.Slice — no sort library appears
// anywhere in the example pack, so stdlib is the idiomatic choice here
// too.
type Sort struct {
	child Node
	keys  []SortKey

	began bool
	rows  []Tuple
	idx   int
}

func NewSort(child Node, keys []SortKey) *Sort {
	return &Sort{child: child, keys: keys}
}

func (s *Sort) Feed(bindings Tuple) {}

func (s *Sort) BeginTuple() error {
	if err := s.child.BeginTuple(); err != nil {
		return err
	}
	rows, err := s.child.GetBlock()
	if err != nil {
		return err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range s.keys {
			cmp := compareOrdered(rows[i][k.Col], rows[j][k.Col])
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})

	s.rows = rows
	s.idx = 0
	s.began = true
	return nil
}

// compareOrdered compares two already-decoded Values by their dynamic
// type, matching types.Compare's numeric-vs-lexical split without
// needing the encoded bytes or a declared ColumnDef in hand.
func compareOrdered(a, b types.Value) int {
	switch a.Type {
	case types.TypeInt, types.TypeBigInt:
		ai, _ := a.AsInt64()
		bi, _ := b.AsInt64()
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case types.TypeFloat:
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	default: // CHAR, DATETIME
		switch {
		case a.Str < b.Str:
			return -1
		case a.Str > b.Str:
			return 1
		}
		return 0
	}
}

func (s *Sort) NextTuple() error {
	s.idx++
	return nil
}

func (s *Sort) IsEnd() bool { return s.idx >= len(s.rows) }

func (s *Sort) Next() Tuple {
	if s.IsEnd() {
		return nil
	}
	return s.rows[s.idx]
}

func (s *Sort) GetBlock() ([]Tuple, error) {
	if !s.began {
		if err := s.BeginTuple(); err != nil {
			return nil, err
		}
	}
	return s.rows[s.idx:], nil
}

func (s *Sort) Cols() []ColumnInfo { return s.child.Cols() }
