// Package bufferpool implements the LRU frame cache shared by the
// heap file and B+tree layers. It is the one place the WAL ordering
// guarantee from spec.md §5 is enforced: a dirty page whose LSN isn't
// yet covered by the WAL's durable LSN cannot be flushed or evicted.
//
// Grounded on DaemonDB/storage_engine/bufferpool/bufferpool.go.
package bufferpool

import (
	"encoding/binary"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/storageengine/page"
)

// DurableLSN reports the highest LSN the WAL guarantees is on disk.
// Implemented by wal.Manager; declared here as a narrow interface so
// bufferpool doesn't import the whole wal package.
type DurableLSN interface {
	FlushedLSN() uint64
}

type BufferPool struct {
	mu          sync.Mutex
	pages       map[page.ID]*page.Page
	capacity    int
	diskManager *diskmanager.DiskManager
	wal         DurableLSN
	lru         []page.ID // least-recently-used first
}

func New(capacity int, dm *diskmanager.DiskManager) *BufferPool {
	return &BufferPool{
		pages:       make(map[page.ID]*page.Page, capacity),
		capacity:    capacity,
		diskManager: dm,
		lru:         make([]page.ID, 0, capacity),
	}
}

func (bp *BufferPool) SetWAL(w DurableLSN) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.wal = w
}

// FetchPage returns the pinned page for id, loading it from disk on a
// miss.
func (bp *BufferPool) FetchPage(id page.ID) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if pg, ok := bp.pages[id]; ok {
		bp.touch(id)
		pg.Lock()
		pg.PinCount++
		pg.Unlock()
		return pg, nil
	}

	pg, err := bp.diskManager.ReadPage(id)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", id, err)
	}
	if len(pg.Data) >= 8 {
		pg.LSN = readLSN(pg.Data)
	}
	if err := bp.addPage(pg); err != nil {
		return nil, err
	}
	pg.Lock()
	pg.PinCount++
	pg.Unlock()
	return pg, nil
}

// NewPage allocates a fresh page of typ in fileID, pinned and dirty.
func (bp *BufferPool) NewPage(fileID uint32, typ page.PageType) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	id, err := bp.diskManager.AllocatePage(fileID)
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	pg := page.New(id, fileID, typ)
	pg.IsDirty = true
	pg.PinCount = 1

	if err := bp.addPage(pg); err != nil {
		pg.PinCount = 0
		return nil, err
	}
	return pg, nil
}

// UnpinPage decrements the pin count, marking the page dirty if the
// caller mutated it.
func (bp *BufferPool) UnpinPage(id page.ID, dirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg, ok := bp.pages[id]
	if !ok {
		return fmt.Errorf("unpin: page %d not in buffer pool", id)
	}
	pg.Lock()
	defer pg.Unlock()
	if pg.PinCount > 0 {
		pg.PinCount--
	}
	if dirty {
		pg.IsDirty = true
	}
	return nil
}

// FlushPage writes a dirty page to disk, refusing if WAL coverage is
// insufficient.
func (bp *BufferPool) FlushPage(id page.ID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg, ok := bp.pages[id]
	if !ok {
		return fmt.Errorf("flush: page %d not in buffer pool", id)
	}
	pg.Lock()
	defer pg.Unlock()
	return bp.flushLocked(pg)
}

// flushLocked assumes bp.mu and pg's own lock are held.
func (bp *BufferPool) flushLocked(pg *page.Page) error {
	if !pg.IsDirty {
		return nil
	}
	if bp.wal != nil && pg.LSN > bp.wal.FlushedLSN() {
		return fmt.Errorf("flush blocked: page %d LSN %d not yet durable (flushedLSN=%d)",
			pg.ID, pg.LSN, bp.wal.FlushedLSN())
	}
	if err := bp.diskManager.WritePage(pg); err != nil {
		return err
	}
	pg.IsDirty = false
	return nil
}

// FlushAll writes every dirty, WAL-covered page to disk; pages whose
// LSN isn't yet durable are skipped, not errored (used at checkpoint).
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, pg := range bp.pages {
		pg.Lock()
		if pg.IsDirty {
			if err := bp.flushLocked(pg); err != nil {
				log.WithField("page_id", pg.ID).Debug("flush deferred: WAL not yet durable")
			}
		}
		pg.Unlock()
	}
	return nil
}

func (bp *BufferPool) addPage(pg *page.Page) error {
	if _, exists := bp.pages[pg.ID]; exists {
		bp.touch(pg.ID)
		return nil
	}
	if len(bp.pages) >= bp.capacity {
		if err := bp.evictLRU(); err != nil {
			return fmt.Errorf("add page %d: %w", pg.ID, err)
		}
	}
	bp.pages[pg.ID] = pg
	bp.touch(pg.ID)
	return nil
}

// evictLRU assumes bp.mu held; picks the first unpinned page in LRU
// order, flushing it if dirty (subject to the WAL flush gate — a page
// whose WAL coverage is missing is skipped in favor of the next LRU
// candidate, never blocking forever since the log manager forces on
// append).
func (bp *BufferPool) evictLRU() error {
	for i := 0; i < len(bp.lru); i++ {
		id := bp.lru[i]
		pg, ok := bp.pages[id]
		if !ok {
			bp.lru = append(bp.lru[:i], bp.lru[i+1:]...)
			i--
			continue
		}
		pg.Lock()
		if pg.PinCount > 0 {
			pg.Unlock()
			continue
		}
		if pg.IsDirty {
			if err := bp.flushLocked(pg); err != nil {
				pg.Unlock()
				continue // not yet durable — try the next candidate
			}
		}
		pg.Unlock()
		delete(bp.pages, id)
		bp.lru = append(bp.lru[:i], bp.lru[i+1:]...)
		return nil
	}
	return fmt.Errorf("evict: all pages pinned, pool exhausted")
}

func (bp *BufferPool) touch(id page.ID) {
	for i, v := range bp.lru {
		if v == id {
			bp.lru = append(bp.lru[:i], bp.lru[i+1:]...)
			break
		}
	}
	bp.lru = append(bp.lru, id)
}

func readLSN(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data[:8])
}
