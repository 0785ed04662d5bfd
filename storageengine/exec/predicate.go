package exec

import (
	"fmt"

	"github.com/shivang/stratumdb/types"
)

type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// invert flips an operator's sense, used when a predicate's
// right-hand side names the inner table of a join and is rewritten to
// canonical (outer-on-left) form at construction time, per spec.md
// §4.7's NestedLoopJoin note.
func (o Op) invert() Op {
	switch o {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return o
}

// Predicate is `col op {col|value}` from spec.md §4.7's SeqScan.
type Predicate struct {
	Left       TabCol
	Op         Op
	RightIsCol bool
	RightCol   TabCol
	RightVal   types.Value
}

// Flip returns p with its sides swapped and its operator inverted,
// i.e. `A.x > B.y` becomes `B.y < A.x`.
func (p Predicate) Flip() Predicate {
	return Predicate{Left: p.RightCol, Op: p.Op.invert(), RightIsCol: true, RightCol: p.Left}
}

// Eval decides whether p holds given a tuple and the column's declared
// type for comparison semantics. Missing bindings (the right side not
// yet fed, e.g. before a join's outer row arrives) evaluate false.
func Eval(p Predicate, row Tuple, colType map[TabCol]types.DataType) (bool, error) {
	lv, ok := row[p.Left]
	if !ok {
		return false, nil
	}
	var rv types.Value
	if p.RightIsCol {
		v, ok := row[p.RightCol]
		if !ok {
			return false, nil
		}
		rv = v
	} else {
		rv = p.RightVal
	}

	typ, ok := colType[p.Left]
	if !ok {
		return false, fmt.Errorf("exec: no declared type for %s.%s", p.Left.Table, p.Left.Col)
	}

	cmp, err := compareValues(typ, lv, rv)
	if err != nil {
		return false, err
	}
	switch p.Op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLe:
		return cmp <= 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGe:
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("exec: unknown operator %d", p.Op)
}

// compareValues implements spec.md §4.7's coercion rules (INT<->BIGINT
// in predicates) on top of types.Compare, which expects both operands
// already encoded at the same declared width.
func compareValues(typ types.DataType, a, b types.Value) (int, error) {
	switch typ {
	case types.TypeInt, types.TypeBigInt:
		ai, aok := a.AsInt64()
		bi, bok := b.AsInt64()
		if !aok || !bok {
			return 0, fmt.Errorf("%w: expected integer-compatible operands", types.ErrIncompatibleType)
		}
		switch {
		case ai < bi:
			return -1, nil
		case ai > bi:
			return 1, nil
		}
		return 0, nil
	case types.TypeFloat:
		af, aok := a.AsFloat64()
		bf, bok := b.AsFloat64()
		if !aok || !bok {
			return 0, fmt.Errorf("%w: expected numeric operands", types.ErrIncompatibleType)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	case types.TypeChar, types.TypeDatetime:
		if a.Str == b.Str {
			return 0, nil
		}
		if a.Str < b.Str {
			return -1, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("%w: unsupported predicate column type", types.ErrIncompatibleType)
}
