// Package txnmgr implements the transaction manager (spec.md §4.6,
// component C7): begin/commit/abort, per-transaction write sets, and
// log-replay rollback.
//
// Grounded on
// DaemonDB/storage_engine/transaction_manager/{main.go,structs.go,
// rollback_helpers.go} for the Begin/Commit/Abort shape and the
// RecordInsert/RecordUpdate undo-bookkeeping style, extended past the
// teacher two ways: abort here actually rolls back (the teacher's own
// comment says rollback is "implicit" via recovery skipping uncommitted
// ops — this engine instead performs the spec's walk-write-set-in-
// reverse protocol so an explicit ABORT takes effect immediately, not
// only after a crash), and a second, separate index_write_set is
// walked for B+tree undo, which the teacher has no equivalent of since
// it carries no index write-ahead records at all.
package txnmgr

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/shivang/stratumdb/storageengine/access/bplustree"
	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/catalog"
	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/storageengine/lockmgr"
	"github.com/shivang/stratumdb/storageengine/wal"
	"github.com/shivang/stratumdb/stratumerr"
	"github.com/shivang/stratumdb/types"
)

type State int32

const (
	StateDefault State = iota
	StateGrowing
	StateShrinking
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "DEFAULT"
	case StateGrowing:
		return "GROWING"
	case StateShrinking:
		return "SHRINKING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// WriteRecord is one heap-side undo entry, appended in execution order
// and consumed in reverse on abort.
type WriteRecord struct {
	Table string
	Op    wal.RecordType // Insert, Delete, or Update
	Rid   types.Rid
	Old   []byte // Delete/Update: the value being replaced/removed
	New   []byte // Insert/Update: the value written
}

// IndexWriteRecord is the B+tree analog of WriteRecord.
type IndexWriteRecord struct {
	IndexName string
	Op        wal.RecordType // InsertEntry or DeleteEntry
	Key       []byte
	Rid       types.Rid
}

// Transaction is spec.md §3's Transaction entity. Its own mutex lets
// the deadlock detector (running on a different goroutine, holding no
// lock on the Transaction itself) safely force it into ABORTED.
type Transaction struct {
	id           int32
	explicitMode bool

	mu      sync.Mutex
	state   State
	prevLSN int32
	lockSet map[string]lockmgr.Mode

	writeSet      []WriteRecord
	indexWriteSet []IndexWriteRecord
}

func (t *Transaction) ID() int32 { return t.id }

func (t *Transaction) MarkAborted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateCommitted {
		t.state = StateAborted
	}
}

func (t *Transaction) IsAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateAborted
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) PrevLSN() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prevLSN
}

func (t *Transaction) ExplicitMode() bool { return t.explicitMode }

// RecordWrite appends a heap undo entry, called by the executor's
// insert/update/delete nodes after the heap mutation succeeds.
func (t *Transaction) RecordWrite(r WriteRecord) {
	t.mu.Lock()
	t.writeSet = append(t.writeSet, r)
	t.mu.Unlock()
}

// RecordIndexWrite appends a B+tree undo entry.
func (t *Transaction) RecordIndexWrite(r IndexWriteRecord) {
	t.mu.Lock()
	t.indexWriteSet = append(t.indexWriteSet, r)
	t.mu.Unlock()
}

// Manager owns the active-transaction table and drives WAL/heap/index
// access during commit and abort.
type Manager struct {
	mu     sync.Mutex
	nextID int32
	active map[int32]*Transaction

	wal     *wal.Manager
	lockMgr *lockmgr.Manager
	cat     *catalog.Manager
	dm      *diskmanager.DiskManager
	bp      *bufferpool.BufferPool

	heaps   map[uint32]*heapfile.HeapFile
	indexes map[uint32]*bplustree.BTree
}

func New(w *wal.Manager, lm *lockmgr.Manager, cat *catalog.Manager, dm *diskmanager.DiskManager, bp *bufferpool.BufferPool) *Manager {
	return &Manager{
		active:  make(map[int32]*Transaction),
		wal:     w,
		lockMgr: lm,
		cat:     cat,
		dm:      dm,
		bp:      bp,
		heaps:   make(map[uint32]*heapfile.HeapFile),
		indexes: make(map[uint32]*bplustree.BTree),
	}
}

// Begin allocates a transaction, logs BEGIN, and registers it active.
func (m *Manager) Begin(explicit bool) (*Transaction, error) {
	id := atomic.AddInt32(&m.nextID, 1)
	txn := &Transaction{id: id, explicitMode: explicit, state: StateDefault, lockSet: make(map[string]lockmgr.Mode)}

	lsn, err := m.wal.Append(&wal.LogRecord{Type: wal.Begin, TxnID: id, PrevLSN: wal.InvalidLSN})
	if err != nil {
		return nil, fmt.Errorf("txnmgr: begin: %w", err)
	}
	txn.prevLSN = lsn

	m.mu.Lock()
	m.active[id] = txn
	m.mu.Unlock()
	return txn, nil
}

// Lock acquires a table lock on txn's behalf, enforcing strict 2PL's
// growing/shrinking discipline (spec.md §5): no new lock may be taken
// once shrinking has begun.
func (m *Manager) Lock(txn *Transaction, table string, mode lockmgr.Mode) error {
	txn.mu.Lock()
	if txn.state == StateShrinking || txn.state == StateCommitted || txn.state == StateAborted {
		txn.mu.Unlock()
		return stratumerr.NewTransactionAbort(uint64(txn.id), stratumerr.LockOnShrinking)
	}
	if txn.state == StateDefault {
		txn.state = StateGrowing
	}
	txn.mu.Unlock()

	if err := m.lockMgr.LockOnTable(txn, table, mode); err != nil {
		return err
	}

	txn.mu.Lock()
	txn.lockSet[table] = mode
	txn.mu.Unlock()
	return nil
}

// Log appends a log record on txn's behalf and advances its prevLSN
// chain, for use by the executor's Insert/Update/Delete nodes. It
// returns the record's assigned LSN so the caller can stamp the page
// it is about to mutate (spec.md §5's "log before mutate" ordering)
// before that mutation becomes visible.
func (m *Manager) Log(txn *Transaction, r *wal.LogRecord) (uint64, error) {
	return m.logAndBump(txn, r)
}

func (m *Manager) logAndBump(txn *Transaction, r *wal.LogRecord) (uint64, error) {
	r.TxnID = txn.id
	r.PrevLSN = txn.PrevLSN()
	lsn, err := m.wal.Append(r)
	if err != nil {
		return 0, err
	}
	txn.mu.Lock()
	txn.prevLSN = lsn
	txn.mu.Unlock()
	return uint64(lsn), nil
}

// Commit implements spec.md §4.6's commit protocol. The caller (the
// session layer) is responsible for releasing txn's locks afterward.
func (m *Manager) Commit(txn *Transaction) error {
	txn.mu.Lock()
	txn.state = StateShrinking
	txn.mu.Unlock()

	if _, err := m.logAndBump(txn, &wal.LogRecord{Type: wal.Commit}); err != nil {
		return fmt.Errorf("txnmgr: commit: %w", err)
	}

	txn.mu.Lock()
	txn.writeSet = nil
	txn.indexWriteSet = nil
	txn.state = StateCommitted
	txn.mu.Unlock()

	m.mu.Lock()
	delete(m.active, txn.id)
	m.mu.Unlock()
	log.WithField("txn_id", txn.id).Debug("txnmgr: committed")
	return nil
}

// Abort implements spec.md §4.6's rollback protocol: walk write_set in
// reverse applying+logging the inverse heap operation, then
// index_write_set in reverse for the B+tree side, then log ABORT.
//
// Per spec.md's note, a rid or key already absent (a later
// compensating op already removed it) is tolerated by skipping —
// per-row undo with no per-row latching can race with itself across
// overlapping aborts of the same object.
func (m *Manager) Abort(txn *Transaction) error {
	txn.mu.Lock()
	txn.state = StateShrinking
	writeSet := append([]WriteRecord(nil), txn.writeSet...)
	indexWriteSet := append([]IndexWriteRecord(nil), txn.indexWriteSet...)
	txn.mu.Unlock()

	for i := len(writeSet) - 1; i >= 0; i-- {
		if err := m.undoWrite(txn, writeSet[i]); err != nil {
			return fmt.Errorf("txnmgr: abort: undo write: %w", err)
		}
	}
	for i := len(indexWriteSet) - 1; i >= 0; i-- {
		if err := m.undoIndexWrite(txn, indexWriteSet[i]); err != nil {
			return fmt.Errorf("txnmgr: abort: undo index write: %w", err)
		}
	}

	if _, err := m.logAndBump(txn, &wal.LogRecord{Type: wal.Abort}); err != nil {
		return fmt.Errorf("txnmgr: abort: %w", err)
	}

	txn.mu.Lock()
	txn.writeSet = nil
	txn.indexWriteSet = nil
	txn.state = StateAborted
	txn.mu.Unlock()

	m.mu.Lock()
	delete(m.active, txn.id)
	m.mu.Unlock()
	log.WithField("txn_id", txn.id).Debug("txnmgr: aborted")
	return nil
}

func (m *Manager) heapFor(table string) (*heapfile.HeapFile, error) {
	fm, err := m.cat.FileMappingFor(table)
	if err != nil {
		return nil, err
	}
	if hf, ok := m.heaps[fm.HeapFileID]; ok {
		return hf, nil
	}
	hf, err := heapfile.Open(fm.HeapFileID, m.dm, m.bp)
	if err != nil {
		return nil, err
	}
	m.heaps[fm.HeapFileID] = hf
	return hf, nil
}

func (m *Manager) indexFor(table, indexName string) (*bplustree.BTree, error) {
	fm, err := m.cat.FileMappingFor(table)
	if err != nil {
		return nil, err
	}
	fileID, ok := fm.Indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("txnmgr: index %q on table %q not found", indexName, table)
	}
	if bt, ok := m.indexes[fileID]; ok {
		return bt, nil
	}
	bt, err := bplustree.Open(fileID, m.dm, m.bp)
	if err != nil {
		return nil, err
	}
	m.indexes[fileID] = bt
	return bt, nil
}

func (m *Manager) indexOwner(indexName string) (string, bool) {
	for _, table := range m.cat.ListTables() {
		for _, idx := range m.cat.IndexesForTable(table) {
			if idx.Name == indexName {
				return table, true
			}
		}
	}
	return "", false
}

// undoWrite applies the inverse of a heap write, logging the
// compensating record before applying it — the same "log before
// mutate" ordering exec's Insert/Delete/Update nodes follow — so the
// page's page_lsn can be stamped with the compensating record's own
// LSN rather than the original write's.
func (m *Manager) undoWrite(txn *Transaction, w WriteRecord) error {
	hf, err := m.heapFor(w.Table)
	if err != nil {
		return err
	}
	switch w.Op {
	case wal.Insert:
		lsn, err := m.logAndBump(txn, &wal.LogRecord{Type: wal.Delete, Table: w.Table, Rid: w.Rid, Value: w.New})
		if err != nil {
			return err
		}
		if err := hf.DeleteRecord(w.Rid, lsn); err != nil {
			log.WithField("rid", w.Rid).Debug("txnmgr: undo insert: rid already absent, skipping")
		}
		return nil
	case wal.Delete:
		lsn, err := m.logAndBump(txn, &wal.LogRecord{Type: wal.Insert, Table: w.Table, Rid: w.Rid, Value: w.Old})
		if err != nil {
			return err
		}
		if err := hf.InsertRecordAt(w.Rid, w.Old, lsn); err != nil {
			return fmt.Errorf("undo delete at rid %v: %w", w.Rid, err)
		}
		return nil
	case wal.Update:
		lsn, err := m.logAndBump(txn, &wal.LogRecord{Type: wal.Update, Table: w.Table, Rid: w.Rid, Old: w.New, Value: w.Old})
		if err != nil {
			return err
		}
		if err := hf.UpdateRecord(w.Rid, w.Old, lsn); err != nil {
			log.WithField("rid", w.Rid).Debug("txnmgr: undo update: rid already absent, skipping")
		}
		return nil
	}
	return fmt.Errorf("txnmgr: undoWrite: unexpected op %v", w.Op)
}

func (m *Manager) undoIndexWrite(txn *Transaction, w IndexWriteRecord) error {
	table, ok := m.indexOwner(w.IndexName)
	if !ok {
		return fmt.Errorf("txnmgr: undo index write: index %q not in catalog", w.IndexName)
	}
	bt, err := m.indexFor(table, w.IndexName)
	if err != nil {
		return err
	}
	switch w.Op {
	case wal.InsertEntry:
		lsn, err := m.logAndBump(txn, &wal.LogRecord{Type: wal.DeleteEntry, IndexName: w.IndexName, Key: w.Key, Rid: w.Rid})
		if err != nil {
			return err
		}
		if err := bt.Delete(w.Key, lsn); err != nil {
			log.WithField("index", w.IndexName).Debug("txnmgr: undo insert_entry: key already absent, skipping")
		}
		return nil
	case wal.DeleteEntry:
		lsn, err := m.logAndBump(txn, &wal.LogRecord{Type: wal.InsertEntry, IndexName: w.IndexName, Key: w.Key, Rid: w.Rid})
		if err != nil {
			return err
		}
		if err := bt.Insert(w.Key, w.Rid, lsn); err != nil {
			log.WithField("index", w.IndexName).Debug("txnmgr: undo delete_entry: key already present, skipping")
		}
		return nil
	}
	return fmt.Errorf("txnmgr: undoIndexWrite: unexpected op %v", w.Op)
}

// Get returns the active transaction with this id, or nil.
func (m *Manager) Get(id int32) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}
