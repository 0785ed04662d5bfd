package exec

import "github.com/shivang/stratumdb/types"

type AggFunc int

const (
	AggSum AggFunc = iota
	AggMin
	AggMax
	AggCount
)

// Aggregate is a one-pass aggregation over the child's block, per
// spec.md §4.7: COUNT returns block size regardless of argument
// (COUNT(col) is treated as COUNT(*)); SUM/MIN/MAX operate on the
// named column, MIN/MAX comparing the way types.Compare does. The
// result occupies the first column of an otherwise-copied tuple (the
// last row's bindings, so non-aggregated columns in a GROUP-BY-less
// aggregate still carry some value rather than being absent).
type Aggregate struct {
	child  Node
	fn     AggFunc
	col    TabCol
	result TabCol // output key the aggregate value is stored under

	cur   Tuple
	ended bool
}

func NewAggregate(child Node, fn AggFunc, col, result TabCol) *Aggregate {
	return &Aggregate{child: child, fn: fn, col: col, result: result}
}

func (a *Aggregate) Feed(bindings Tuple) {}

func (a *Aggregate) BeginTuple() error {
	if err := a.child.BeginTuple(); err != nil {
		return err
	}
	block, err := a.child.GetBlock()
	if err != nil {
		return err
	}
	if a.fn == AggCount {
		row := Tuple{a.result: types.IntValue(int32(len(block)))}
		a.cur = row
		return nil
	}
	if len(block) == 0 {
		a.ended = true
		return nil
	}

	acc := block[0][a.col]
	for _, row := range block[1:] {
		v := row[a.col]
		switch a.fn {
		case AggMin:
			if compareOrdered(v, acc) < 0 {
				acc = v
			}
		case AggMax:
			if compareOrdered(v, acc) > 0 {
				acc = v
			}
		case AggSum:
			acc = sumValues(acc, v)
		}
	}

	out := block[len(block)-1].Copy()
	out[a.result] = acc
	a.cur = out
	return nil
}

func sumValues(a, b types.Value) types.Value {
	if a.Type == types.TypeFloat || b.Type == types.TypeFloat {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return types.FloatValue(af + bf)
	}
	ai, _ := a.AsInt64()
	bi, _ := b.AsInt64()
	return types.BigIntValue(ai + bi)
}

func (a *Aggregate) NextTuple() error {
	a.ended = true
	a.cur = nil
	return nil
}

func (a *Aggregate) IsEnd() bool { return a.ended }
func (a *Aggregate) Next() Tuple { return a.cur }

func (a *Aggregate) GetBlock() ([]Tuple, error) {
	if a.cur == nil && !a.ended {
		if err := a.BeginTuple(); err != nil {
			return nil, err
		}
	}
	if a.cur == nil {
		return nil, nil
	}
	return []Tuple{a.cur}, nil
}

func (a *Aggregate) Cols() []ColumnInfo { return a.child.Cols() }
