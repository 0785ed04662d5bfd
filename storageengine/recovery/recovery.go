// Package recovery implements the analyze/redo/undo crash-recovery
// pass (spec.md §4.4, component C5), run once at startup before the
// engine accepts connections.
//
// Grounded on DaemonDB/storage_engine/recover_wal.go for the overall
// three-pass shape (collect ops, classify committed/aborted txns, redo
// forward, undo backward) and its logging style, extended two ways the
// teacher's RecoverFromWAL cannot: INSERT_ENTRY/DELETE_ENTRY records
// are redone/undone against the named index (the teacher has no index
// WAL records at all), and UPDATE's undo restores the old value
// carried in the record (the teacher's Operation only stores the new
// row, so DaemonDB's replayUpdate cannot undo an update).
package recovery

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/shivang/stratumdb/storageengine/access/bplustree"
	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/catalog"
	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/storageengine/wal"
)

// Manager drives recovery. It opens heap/index handles lazily, keyed
// by file ID, since the WAL only names tables and indexes by string.
type Manager struct {
	wal *wal.Manager
	cat *catalog.Manager
	dm  *diskmanager.DiskManager
	bp  *bufferpool.BufferPool

	heaps   map[uint32]*heapfile.HeapFile
	indexes map[uint32]*bplustree.BTree
}

func New(w *wal.Manager, cat *catalog.Manager, dm *diskmanager.DiskManager, bp *bufferpool.BufferPool) *Manager {
	return &Manager{
		wal: w, cat: cat, dm: dm, bp: bp,
		heaps:   make(map[uint32]*heapfile.HeapFile),
		indexes: make(map[uint32]*bplustree.BTree),
	}
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
		return nil, fmt.Errorf("recovery: index %q on table %q not found", indexName, table)
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

// Run executes the analyze+redo+undo pass over the entire WAL.
func (m *Manager) Run() error {
	records, err := m.wal.ReadAll()
	if err != nil {
		return fmt.Errorf("recovery: read wal: %w", err)
	}
	if len(records) == 0 {
		log.Info("recovery: empty log, nothing to do")
		return nil
	}

	committed := make(map[int32]bool)
	active := make(map[int32]bool)

	for _, r := range records {
		switch r.Type {
		case wal.Begin:
			active[r.TxnID] = true
		case wal.Commit:
			committed[r.TxnID] = true
			delete(active, r.TxnID)
		case wal.Abort:
			delete(active, r.TxnID)
		}
	}

	if err := m.redo(records, committed); err != nil {
		return fmt.Errorf("recovery: redo: %w", err)
	}
	log.WithField("redone", len(records)).Info("recovery: redo pass complete")

	if err := m.undo(records, active); err != nil {
		return fmt.Errorf("recovery: undo: %w", err)
	}
	log.WithField("losers", len(active)).Info("recovery: undo pass complete")
	return nil
}

// redo replays every record in log order. Uncommitted transactions'
// writes are applied too (undo removes them in the next pass) — this
// is the standard ARIES "redo everything" rule, since redo must not
// need to know commit status to be idempotent.
func (m *Manager) redo(records []*wal.LogRecord, committed map[int32]bool) error {
	for _, r := range records {
		lsn := uint64(r.LSN)
		switch r.Type {
		case wal.Insert:
			hf, err := m.heapFor(r.Table)
			if err != nil {
				return err
			}
			if err := hf.InsertRecordAt(r.Rid, r.Value, lsn); err != nil {
				return fmt.Errorf("redo insert lsn=%d: %w", r.LSN, err)
			}
		case wal.Delete:
			hf, err := m.heapFor(r.Table)
			if err != nil {
				return err
			}
			if err := hf.DeleteRecord(r.Rid, lsn); err != nil {
				log.WithField("lsn", r.LSN).Debug("redo delete: rid already absent, skipping")
			}
		case wal.Update:
			hf, err := m.heapFor(r.Table)
			if err != nil {
				return err
			}
			if err := hf.UpdateRecord(r.Rid, r.Value, lsn); err != nil {
				return fmt.Errorf("redo update lsn=%d: %w", r.LSN, err)
			}
		case wal.InsertEntry:
			bt, err := m.indexOf(r)
			if err != nil {
				return err
			}
			if err := bt.Insert(r.Key, r.Rid, lsn); err != nil {
				log.WithField("lsn", r.LSN).Debug("redo insert_entry: already present, skipping")
			}
		case wal.DeleteEntry:
			bt, err := m.indexOf(r)
			if err != nil {
				return err
			}
			if err := bt.Delete(r.Key, lsn); err != nil {
				log.WithField("lsn", r.LSN).Debug("redo delete_entry: already absent, skipping")
			}
		}
	}
	return nil
}

// indexOf resolves a record's index handle. INSERT_ENTRY/DELETE_ENTRY
// records carry only the index name, so the owning table is found via
// a reverse scan of the catalog's per-table index lists.
func (m *Manager) indexOf(r *wal.LogRecord) (*bplustree.BTree, error) {
	for _, table := range m.cat.ListTables() {
		for _, idx := range m.cat.IndexesForTable(table) {
			if idx.Name == r.IndexName {
				return m.indexFor(table, r.IndexName)
			}
		}
	}
	return nil, fmt.Errorf("recovery: index %q not found in catalog", r.IndexName)
}

// undo walks each loser transaction's records in reverse LSN order,
// applying the inverse of each, per spec.md §4.4 step 3. No
// compensation records are emitted (DESIGN.md's Open Question 3: undo
// is idempotent given per-row invariants, so a crash mid-undo simply
// restarts undo from the beginning on the next recovery run).
func (m *Manager) undo(records []*wal.LogRecord, losers map[int32]bool) error {
	if len(losers) == 0 {
		return nil
	}
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.TxnID == 0 || !losers[r.TxnID] {
			continue
		}
		lsn := uint64(r.LSN)
		switch r.Type {
		case wal.Insert:
			hf, err := m.heapFor(r.Table)
			if err != nil {
				return err
			}
			if err := hf.DeleteRecord(r.Rid, lsn); err != nil {
				log.WithField("lsn", r.LSN).Debug("undo insert: rid already absent, skipping")
			}
		case wal.Delete:
			hf, err := m.heapFor(r.Table)
			if err != nil {
				return err
			}
			if err := hf.InsertRecordAt(r.Rid, r.Value, lsn); err != nil {
				return fmt.Errorf("undo delete lsn=%d: %w", r.LSN, err)
			}
		case wal.Update:
			hf, err := m.heapFor(r.Table)
			if err != nil {
				return err
			}
			if err := hf.UpdateRecord(r.Rid, r.Old, lsn); err != nil {
				return fmt.Errorf("undo update lsn=%d: %w", r.LSN, err)
			}
		case wal.InsertEntry:
			bt, err := m.indexOf(r)
			if err != nil {
				return err
			}
			if err := bt.Delete(r.Key, lsn); err != nil {
				log.WithField("lsn", r.LSN).Debug("undo insert_entry: already absent, skipping")
			}
		case wal.DeleteEntry:
			bt, err := m.indexOf(r)
			if err != nil {
				return err
			}
			if err := bt.Insert(r.Key, r.Rid, lsn); err != nil {
				log.WithField("lsn", r.LSN).Debug("undo delete_entry: already present, skipping")
			}
		}
	}
	return nil
}
