// Package lockmgr implements the strict two-phase locking manager
// (spec.md §4.5, component C6): per-table S/X lock queues with upgrade
// handling and a background wait-for-graph deadlock detector.
//
// The teacher (DaemonDB) has no lock manager at all — it relies on
// single-writer WAL replay for consistency — so this package is new
// code. It is grounded structurally on
// yale-systems-go-db-2024/GoDB-v2-main/godb/transaction/lock.go's
// queue-plus-condvar request/grant machinery (dbLock, dbLockRequest,
// grantLock), simplified from GoDB's five-mode multi-granularity
// lattice down to spec.md's two modes (S, X; X dominates S) and
// rebuilt around spec.md's specific wait-for-graph deadlock detector
// rather than GoDB's immediate wait-die abort policy.
package lockmgr

import (
	"sync"

	"github.com/shivang/stratumdb/stratumerr"
)

type Mode int

const (
	ModeS Mode = iota
	ModeX
)

// TxnHandle is the narrow view of a transaction the lock manager
// needs: its id and a way to force it into the ABORTED state under
// the transaction's own mutex, per spec.md §5's cancellation protocol.
type TxnHandle interface {
	ID() int32
	MarkAborted()
	IsAborted() bool
}

type request struct {
	txn     TxnHandle
	mode    Mode
	granted bool
}

// queue is one table's LockRequestQueue: S/X grants plus a FIFO
// pending list, guarded by its own mutex/cond.
type queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	granted   []*request
	pending   []*request
	upgrading int32 // txn_id currently upgrading, or 0
}

func newQueue() *queue {
	q := &queue{upgrading: 0}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Manager owns every table's lock queue plus the wait_for_lock_map the
// deadlock detector scans.
type Manager struct {
	mu     sync.Mutex
	tables map[string]*queue

	waitMu       sync.Mutex
	waitForQueue map[int32]*queue

	detectorOn   bool
	detectorStop chan struct{}
}

func New() *Manager {
	return &Manager{
		tables:       make(map[string]*queue),
		waitForQueue: make(map[int32]*queue),
	}
}

func (m *Manager) queueFor(table string) *queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.tables[table]
	if !ok {
		q = newQueue()
		m.tables[table] = q
	}
	return q
}

func compatible(a, b Mode) bool {
	return a == ModeS && b == ModeS
}

// holds reports whether txn already holds table at mode >= requested.
func (q *queue) holds(txnID int32, mode Mode) bool {
	for _, g := range q.granted {
		if g.txn.ID() == txnID && (g.mode == mode || g.mode == ModeX) {
			return true
		}
	}
	return false
}

func (q *queue) grantedModeOf(txnID int32) (Mode, bool) {
	for _, g := range q.granted {
		if g.txn.ID() == txnID {
			return g.mode, true
		}
	}
	return ModeS, false
}

// LockOnTable implements spec.md §4.5's lock_on_table protocol.
func (m *Manager) LockOnTable(txn TxnHandle, table string, mode Mode) error {
	q := m.queueFor(table)
	q.mu.Lock()

	if q.holds(txn.ID(), mode) {
		q.mu.Unlock()
		return nil
	}

	req := &request{txn: txn, mode: mode}
	if curMode, held := q.grantedModeOf(txn.ID()); held && curMode == ModeS && mode == ModeX {
		if q.upgrading != 0 && q.upgrading != txn.ID() {
			q.mu.Unlock()
			return stratumerr.NewTransactionAbort(uint64(txn.ID()), stratumerr.UpgradeConflict)
		}
		q.upgrading = txn.ID()
		// Erase the S grant; re-request X at the head of the pending queue.
		for i, g := range q.granted {
			if g.txn.ID() == txn.ID() {
				q.granted = append(q.granted[:i], q.granted[i+1:]...)
				break
			}
		}
		q.pending = append([]*request{req}, q.pending...)
	} else {
		q.pending = append(q.pending, req)
	}

	m.registerWaiter(txn.ID(), q)

	for {
		if txn.IsAborted() {
			m.removePending(q, req)
			q.mu.Unlock()
			return stratumerr.NewTransactionAbort(uint64(txn.ID()), stratumerr.DeadlockPrevention)
		}
		if m.headCompatible(q, req) {
			m.grant(q, req)
			q.mu.Unlock()
			m.unregisterWaiter(txn.ID())
			return nil
		}
		q.cond.Wait()
	}
}

// headCompatible reports whether req, if it is (or becomes) the head
// of the pending queue, is compatible with every currently granted
// lock and every pending request ahead of it.
func (m *Manager) headCompatible(q *queue, req *request) bool {
	if len(q.pending) == 0 || q.pending[0] != req {
		return false
	}
	for _, g := range q.granted {
		if g.txn.ID() != req.txn.ID() && !compatible(req.mode, g.mode) {
			return false
		}
	}
	return true
}

func (m *Manager) grant(q *queue, req *request) {
	for i, p := range q.pending {
		if p == req {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	req.granted = true
	q.granted = append(q.granted, req)
	if q.upgrading == req.txn.ID() {
		q.upgrading = 0
	}
}

func (m *Manager) removePending(q *queue, req *request) {
	for i, p := range q.pending {
		if p == req {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	if q.upgrading == req.txn.ID() {
		q.upgrading = 0
	}
}

// Unlock releases table's grant for txn, per spec.md §4.5's release
// rule.
func (m *Manager) Unlock(txn TxnHandle, table string) error {
	q := m.queueFor(table)
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, g := range q.granted {
		if g.txn.ID() == txn.ID() {
			q.granted = append(q.granted[:i], q.granted[i+1:]...)
			q.cond.Broadcast()
			return nil
		}
	}
	return stratumerr.NewTransactionAbort(uint64(txn.ID()), stratumerr.AttemptedUnlockButNoLockHeld)
}

// ReleaseAll drops every lock txn holds across all tables, called at
// commit/abort (SHRINKING per spec.md §5).
func (m *Manager) ReleaseAll(txn TxnHandle) {
	m.mu.Lock()
	tables := make([]*queue, 0, len(m.tables))
	for _, q := range m.tables {
		tables = append(tables, q)
	}
	m.mu.Unlock()

	for _, q := range tables {
		q.mu.Lock()
		changed := false
		for i := 0; i < len(q.granted); i++ {
			if q.granted[i].txn.ID() == txn.ID() {
				q.granted = append(q.granted[:i], q.granted[i+1:]...)
				changed = true
				i--
			}
		}
		if changed {
			q.cond.Broadcast()
		}
		q.mu.Unlock()
	}
	m.unregisterWaiter(txn.ID())
}

func (m *Manager) registerWaiter(txnID int32, q *queue) {
	m.waitMu.Lock()
	m.waitForQueue[txnID] = q
	m.waitMu.Unlock()
}

func (m *Manager) unregisterWaiter(txnID int32) {
	m.waitMu.Lock()
	delete(m.waitForQueue, txnID)
	m.waitMu.Unlock()
}
