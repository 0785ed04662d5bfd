package bufferpool

import "github.com/shivang/stratumdb/storageengine/page"

// Guard is a scoped pin: Release() unpins exactly once regardless of
// how many exit paths a caller has, and MarkDirty() records that the
// page must be written back. This replaces the teacher's and the
// original C++ source's "pin tied to object lifetime" pattern (spec.md
// §9) with an explicit RAII-style guard, since Go has no destructors.
type Guard struct {
	pool  *BufferPool
	pg    *page.Page
	dirty bool
}

// page_lsn is tracked on the page itself (page.Page.LSN) rather than
// on the Guard, since a page can be fetched by a later Guard after
// this one releases it and the flush gate in BufferPool.flushLocked
// reads straight off the cached *page.Page.

// Fetch pins id and returns a Guard over it.
func (bp *BufferPool) Fetch(id page.ID) (*Guard, error) {
	pg, err := bp.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return &Guard{pool: bp, pg: pg}, nil
}

// NewGuard wraps a freshly allocated, already-pinned page.
func (bp *BufferPool) NewGuard(fileID uint32, typ page.PageType) (*Guard, error) {
	pg, err := bp.NewPage(fileID, typ)
	if err != nil {
		return nil, err
	}
	return &Guard{pool: bp, pg: pg, dirty: true}, nil
}

func (g *Guard) Page() *page.Page { return g.pg }

// MarkDirty records that the page must be written back and stamps its
// page_lsn with lsn, the log record that describes this mutation —
// already durable by the time MarkDirty is called, per spec.md §5's
// "log before mutate" ordering. A page's LSN only moves forward: a
// lower lsn (e.g. 0 from a caller with nothing to log yet) never
// regresses it.
func (g *Guard) MarkDirty(lsn uint64) {
	g.dirty = true
	if lsn > g.pg.LSN {
		g.pg.LSN = lsn
	}
}

// Release unpins the page, propagating the dirty flag set by
// MarkDirty. Safe to call at most once; callers typically `defer`
// this immediately after acquiring the guard.
func (g *Guard) Release() error {
	if g == nil || g.pg == nil {
		return nil
	}
	id := g.pg.ID
	dirty := g.dirty
	g.pg = nil
	return g.pool.UnpinPage(id, dirty)
}
