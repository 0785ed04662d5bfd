package storageengine

import (
	"github.com/shivang/stratumdb/storageengine/exec"
	"github.com/shivang/stratumdb/types"
)

// Insert inserts one row into table, driven through Session.run so it
// runs under the session's current (explicit or auto-commit)
// transaction, per spec.md §4.7's Insert node.
func (s *Session) Insert(table string, values []types.Value) error {
	return s.run(func(ctx *exec.Context) error {
		n, err := exec.NewInsert(ctx, table, values)
		if err != nil {
			return err
		}
		return n.BeginTuple()
	})
}

// Delete removes every row of table matching preds and reports how
// many rows were removed, per spec.md §6's `DELETE FROM t [WHERE c]`.
func (s *Session) Delete(table string, preds []exec.Predicate) (int, error) {
	var count int
	err := s.run(func(ctx *exec.Context) error {
		scan, err := exec.NewSeqScan(ctx, table, preds)
		if err != nil {
			return err
		}
		del, err := exec.NewDelete(ctx, table, scan)
		if err != nil {
			return err
		}
		c, err := drainCount(del)
		if err != nil {
			return err
		}
		count = c
		return nil
	})
	return count, err
}

// Update applies sets to every row of table matching preds and reports
// how many rows were changed, per spec.md §6's
// `UPDATE t SET col = val [, ...] [WHERE c]`.
func (s *Session) Update(table string, preds []exec.Predicate, sets []exec.SetClause) (int, error) {
	var count int
	err := s.run(func(ctx *exec.Context) error {
		scan, err := exec.NewSeqScan(ctx, table, preds)
		if err != nil {
			return err
		}
		upd, err := exec.NewUpdate(ctx, table, scan, sets)
		if err != nil {
			return err
		}
		c, err := drainCount(upd)
		if err != nil {
			return err
		}
		count = c
		return nil
	})
	return count, err
}

// drainCount pulls the single `__count` tuple a Delete or Update node
// produces once its BeginTuple pass has walked every matching row.
func drainCount(n exec.Node) (int, error) {
	if err := n.BeginTuple(); err != nil {
		return 0, err
	}
	if n.IsEnd() {
		return 0, nil
	}
	tup := n.Next()
	for _, v := range tup {
		return int(v.I32), nil
	}
	return 0, nil
}

// Select drives an arbitrary Node tree build plans the stratumql front
// end assembles (SeqScan/IndexScan/Join/Sort/Aggregate/Projection) and
// returns every produced tuple, per spec.md §6's SELECT surface.
func (s *Session) Select(build func(ctx *exec.Context) (exec.Node, error)) ([]exec.Tuple, error) {
	var rows []exec.Tuple
	err := s.run(func(ctx *exec.Context) error {
		n, err := build(ctx)
		if err != nil {
			return err
		}
		if err := n.BeginTuple(); err != nil {
			return err
		}
		for !n.IsEnd() {
			rows = append(rows, n.Next())
			if err := n.NextTuple(); err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}
