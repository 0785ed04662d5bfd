// Package diskmanager owns OS file handles and the global page-ID
// space. Grounded on DaemonDB/storage_engine/disk_manager/main.go.
//
// A global page ID encodes the owning file so no on-disk counter is
// needed to reconstruct it: globalPageID = int64(fileID)<<32 | localPageNo.
// This is deterministic across restarts regardless of file load order.
package diskmanager

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/shivang/stratumdb/storageengine/page"
)

type fileDescriptor struct {
	fileID     uint32
	path       string
	file       *os.File
	nextPageNo int64
	mu         sync.RWMutex
}

// DiskManager manages all open files and their page-ID spaces.
type DiskManager struct {
	mu         sync.RWMutex
	files      map[uint32]*fileDescriptor
	nextFileID uint32
}

func New() *DiskManager {
	return &DiskManager{files: make(map[uint32]*fileDescriptor), nextFileID: 1}
}

// OpenFileWithID opens (or creates) filePath under a caller-chosen
// file ID — used for heap and index files, whose IDs come from the
// catalog and must stay stable across restarts.
func (dm *DiskManager) OpenFileWithID(filePath string, fileID uint32) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if _, exists := dm.files[fileID]; exists {
		return nil
	}

	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open file %s: %w", filePath, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat file %s: %w", filePath, err)
	}

	dm.files[fileID] = &fileDescriptor{
		fileID:     fileID,
		path:       filePath,
		file:       f,
		nextPageNo: stat.Size() / page.Size,
	}
	if fileID >= dm.nextFileID {
		dm.nextFileID = fileID + 1
	}
	return nil
}

// OpenFile opens filePath and assigns it the next session-scoped file
// ID — used for WAL segments, which don't need a stable catalog ID.
func (dm *DiskManager) OpenFile(filePath string) (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for id, fd := range dm.files {
		if fd.path == filePath {
			return id, nil
		}
	}

	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("open file %s: %w", filePath, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("stat file %s: %w", filePath, err)
	}

	id := dm.nextFileID
	dm.nextFileID++
	dm.files[id] = &fileDescriptor{fileID: id, path: filePath, file: f, nextPageNo: stat.Size() / page.Size}
	return id, nil
}

func (dm *DiskManager) getFD(fileID uint32) (*fileDescriptor, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	fd, ok := dm.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %d not open", fileID)
	}
	return fd, nil
}

// AllocatePage reserves the next page ID in fileID. It does not touch
// disk — the buffer pool writes the page back on flush/eviction.
func (dm *DiskManager) AllocatePage(fileID uint32) (page.ID, error) {
	fd, err := dm.getFD(fileID)
	if err != nil {
		return page.InvalidPageID, err
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	local := fd.nextPageNo
	fd.nextPageNo++
	return page.ID(int64(fileID)<<32 | local), nil
}

func localPageNo(id page.ID) int64 { return int64(id) & 0xFFFFFFFF }

// ReadPage reads the page at its global ID from disk, zero-padding a
// short read (e.g. a page allocated but never flushed before a crash).
func (dm *DiskManager) ReadPage(id page.ID) (*page.Page, error) {
	fileID := uint32(int64(id) >> 32)
	fd, err := dm.getFD(fileID)
	if err != nil {
		return nil, err
	}
	fd.mu.RLock()
	defer fd.mu.RUnlock()

	pg := page.New(id, fileID, page.TypeUnknown)
	n, err := fd.file.ReadAt(pg.Data, localPageNo(id)*page.Size)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("read page %d (file %d): %w", localPageNo(id), fileID, err)
	}
	if n > 8 {
		pg.Type = page.PageType(pg.Data[8])
	}
	return pg, nil
}

// WritePage writes pg back to disk at its local offset, stamping the
// page-type byte and the in-memory LSN into the page's first 8 bytes
// (the shared page_lsn convention every page kind follows) so a page
// read back after a crash carries the LSN the flush gate depends on.
func (dm *DiskManager) WritePage(pg *page.Page) error {
	fd, err := dm.getFD(pg.FileID)
	if err != nil {
		return err
	}
	if len(pg.Data) != page.Size {
		return fmt.Errorf("write page %d: data size %d != page size %d", pg.ID, len(pg.Data), page.Size)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()

	binary.LittleEndian.PutUint64(pg.Data[:8], pg.LSN)
	pg.Data[8] = byte(pg.Type)
	local := localPageNo(pg.ID)
	if _, err := fd.file.WriteAt(pg.Data, local*page.Size); err != nil {
		return fmt.Errorf("write page %d (file %d): %w", local, pg.FileID, err)
	}
	if local >= fd.nextPageNo {
		fd.nextPageNo = local + 1
	}
	return nil
}

// WriteMetadata/ReadMetadata bypass the buffer pool for the fixed
// header page (page 0) of a file — heap/index file headers and B+tree
// root pointers are small and don't benefit from caching.
func (dm *DiskManager) WriteMetadata(fileID uint32, data []byte) error {
	fd, err := dm.getFD(fileID)
	if err != nil {
		return err
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()

	buf := make([]byte, page.Size)
	buf[8] = byte(page.TypeMetadata)
	copy(buf[9:], data)
	_, err = fd.file.WriteAt(buf, 0)
	return err
}

func (dm *DiskManager) ReadMetadata(fileID uint32) ([]byte, error) {
	fd, err := dm.getFD(fileID)
	if err != nil {
		return nil, err
	}
	fd.mu.RLock()
	defer fd.mu.RUnlock()

	buf := make([]byte, page.Size)
	if _, err := fd.file.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf[9:], nil
}

func (dm *DiskManager) Sync() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	for _, fd := range dm.files {
		fd.mu.Lock()
		err := fd.file.Sync()
		fd.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (dm *DiskManager) CloseAll() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	var lastErr error
	for id, fd := range dm.files {
		fd.mu.Lock()
		if err := fd.file.Sync(); err != nil {
			lastErr = err
		}
		if err := fd.file.Close(); err != nil {
			lastErr = err
		}
		fd.mu.Unlock()
		delete(dm.files, id)
	}
	return lastErr
}
