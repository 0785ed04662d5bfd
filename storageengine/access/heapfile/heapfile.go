package heapfile

import (
	"encoding/binary"
	"fmt"

	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/storageengine/page"
	"github.com/shivang/stratumdb/stratumerr"
	"github.com/shivang/stratumdb/types"
)

// Header is the file header (page 0) of a heap file, per spec.md §6:
// record_size, num_pages, num_records_per_page, bitmap_size,
// first_free_page_no.
type Header struct {
	RecordSize        int32
	NumPages          int32
	NumRecordsPerPage int32
	BitmapSize        int32
	FirstFreePageNo   int32
}

func (h Header) layout() Layout {
	return Layout{RecordSize: h.RecordSize, NumRecordsPerPage: h.NumRecordsPerPage, BitmapSize: h.BitmapSize}
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.RecordSize))
	binary.LittleEndian.PutUint32(buf[4:], uint32(h.NumPages))
	binary.LittleEndian.PutUint32(buf[8:], uint32(h.NumRecordsPerPage))
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.BitmapSize))
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.FirstFreePageNo))
	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		RecordSize:        int32(binary.LittleEndian.Uint32(buf[0:])),
		NumPages:          int32(binary.LittleEndian.Uint32(buf[4:])),
		NumRecordsPerPage: int32(binary.LittleEndian.Uint32(buf[8:])),
		BitmapSize:        int32(binary.LittleEndian.Uint32(buf[12:])),
		FirstFreePageNo:   int32(binary.LittleEndian.Uint32(buf[16:])),
	}
}

// HeapFile is the record manager's handle on one table's heap file.
type HeapFile struct {
	fileID int32
	dm     *diskmanager.DiskManager
	bp     *bufferpool.BufferPool
	hdr    Header
}

// Create initializes a brand-new heap file for recordSize-byte rows.
func Create(fileID uint32, recordSize int32, dm *diskmanager.DiskManager, bp *bufferpool.BufferPool) (*HeapFile, error) {
	l := ComputeLayout(recordSize)
	if l.NumRecordsPerPage <= 0 {
		return nil, fmt.Errorf("heapfile: record_size %d too large for a page", recordSize)
	}
	hf := &HeapFile{
		fileID: int32(fileID),
		dm:     dm,
		bp:     bp,
		hdr: Header{
			RecordSize:        recordSize,
			NumPages:          0,
			NumRecordsPerPage: l.NumRecordsPerPage,
			BitmapSize:        l.BitmapSize,
			FirstFreePageNo:   NoPage,
		},
	}
	if err := hf.persistHeader(); err != nil {
		return nil, err
	}
	return hf, nil
}

// Open loads an existing heap file's header from disk.
func Open(fileID uint32, dm *diskmanager.DiskManager, bp *bufferpool.BufferPool) (*HeapFile, error) {
	data, err := dm.ReadMetadata(fileID)
	if err != nil {
		return nil, fmt.Errorf("heapfile: read header: %w", err)
	}
	return &HeapFile{fileID: int32(fileID), dm: dm, bp: bp, hdr: decodeHeader(data)}, nil
}

func (hf *HeapFile) persistHeader() error {
	return hf.dm.WriteMetadata(uint32(hf.fileID), encodeHeader(hf.hdr))
}

func (hf *HeapFile) globalID(localPage int32) page.ID {
	return page.ID(int64(hf.fileID)<<32 | int64(localPage))
}

// allocatePage appends a brand-new, empty data page and returns its
// local page number.
func (hf *HeapFile) allocatePage() (int32, *bufferpool.Guard, error) {
	g, err := hf.bp.NewGuard(uint32(hf.fileID), page.TypeHeapData)
	if err != nil {
		return 0, nil, fmt.Errorf("heapfile: allocate page: %w", err)
	}
	InitDataPage(g.Page(), hf.hdr.layout())
	localPage := int32(g.Page().ID) // low 32 bits equal local page number
	hf.hdr.NumPages++
	if err := hf.persistHeader(); err != nil {
		g.Release()
		return 0, nil, err
	}
	return localPage, g, nil
}

// GetRecord fetches rid's record and returns it unpinned, per
// spec.md §4.1's get_record.
func (hf *HeapFile) GetRecord(rid types.Rid) ([]byte, error) {
	g, err := hf.bp.Fetch(hf.globalID(rid.PageNo))
	if err != nil {
		return nil, fmt.Errorf("heapfile get_record: %w", err)
	}
	defer g.Release()
	g.Page().RLock()
	defer g.Page().RUnlock()
	buf, err := GetRecord(g.Page(), hf.hdr.layout(), rid.Slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stratumerr.ErrRecordNotFound, err)
	}
	return buf, nil
}

// insertTarget returns the page the next InsertRecord/ReserveSlot call
// will use: the free-list head if one exists, otherwise a freshly
// allocated page.
func (hf *HeapFile) insertTarget() (int32, *bufferpool.Guard, error) {
	if hf.hdr.FirstFreePageNo != NoPage {
		localPage := hf.hdr.FirstFreePageNo
		g, err := hf.bp.Fetch(hf.globalID(localPage))
		if err != nil {
			return 0, nil, fmt.Errorf("heapfile insert_record: %w", err)
		}
		return localPage, g, nil
	}
	return hf.allocatePage()
}

// ReserveSlot locates the page and slot the next InsertAtReserved call
// for this rid will write to, without marking the slot occupied. This
// lets a caller append the insert's WAL record — which must name the
// rid it describes — before the corresponding page bytes change, per
// spec.md §5's "log before mutate" ordering and invariant #7.
func (hf *HeapFile) ReserveSlot() (types.Rid, error) {
	localPage, g, err := hf.insertTarget()
	if err != nil {
		return types.NoRid, err
	}
	defer g.Release()
	g.Page().RLock()
	slot := nextClearBit(g.Page(), hf.hdr.layout())
	g.Page().RUnlock()
	if slot < 0 {
		return types.NoRid, fmt.Errorf("heapfile: page full")
	}
	return types.Rid{PageNo: localPage, Slot: slot}, nil
}

// InsertRecord obtains a page with free space (reusing the free list
// when possible), writes buf, and returns its Rid. lsn is the already-
// appended WAL record's LSN this write is covered by; pass 0 when the
// caller has no log record (e.g. a test exercising the heap file in
// isolation).
func (hf *HeapFile) InsertRecord(buf []byte, lsn uint64) (types.Rid, error) {
	localPage, g, err := hf.insertTarget()
	if err != nil {
		return types.NoRid, err
	}
	defer g.Release()
	return hf.writeAt(localPage, g, buf, lsn)
}

// InsertAtReserved writes buf into the slot a prior ReserveSlot call
// predicted for rid, completing the two-phase insert exec.Insert uses
// to log before it mutates.
func (hf *HeapFile) InsertAtReserved(rid types.Rid, buf []byte, lsn uint64) error {
	g, err := hf.bp.Fetch(hf.globalID(rid.PageNo))
	if err != nil {
		return fmt.Errorf("heapfile insert_record: %w", err)
	}
	defer g.Release()
	_, err = hf.writeAt(rid.PageNo, g, buf, lsn)
	return err
}

func (hf *HeapFile) writeAt(localPage int32, g *bufferpool.Guard, buf []byte, lsn uint64) (types.Rid, error) {
	g.Page().Lock()
	slot, err := InsertRecord(g.Page(), hf.hdr.layout(), buf)
	if err != nil {
		g.Page().Unlock()
		return types.NoRid, fmt.Errorf("heapfile insert_record: %w", err)
	}
	full := IsFull(g.Page(), hf.hdr.layout())
	g.Page().Unlock()
	g.MarkDirty(lsn)

	if full && hf.hdr.FirstFreePageNo == localPage {
		hf.hdr.FirstFreePageNo = GetNextFreePageNo(g.Page())
		if err := hf.persistHeader(); err != nil {
			return types.NoRid, err
		}
	} else if !full && hf.hdr.FirstFreePageNo != localPage {
		// Newly allocated page becomes the new free-list head, but
		// only if an insert actually left it with remaining room —
		// a one-record-per-page table (a very wide fixed-width row)
		// would otherwise advertise a full page as free.
		setNextFreePageNo(g.Page(), hf.hdr.FirstFreePageNo)
		hf.hdr.FirstFreePageNo = localPage
		if err := hf.persistHeader(); err != nil {
			return types.NoRid, err
		}
	}

	return types.Rid{PageNo: localPage, Slot: slot}, nil
}

// InsertRecordAt writes buf at the exact rid, for WAL redo/undo replay.
func (hf *HeapFile) InsertRecordAt(rid types.Rid, buf []byte, lsn uint64) error {
	for hf.hdr.NumPages <= rid.PageNo {
		if _, g, err := hf.allocatePage(); err != nil {
			return err
		} else {
			g.Release()
		}
	}
	g, err := hf.bp.Fetch(hf.globalID(rid.PageNo))
	if err != nil {
		return fmt.Errorf("heapfile redo insert: %w", err)
	}
	defer g.Release()
	g.Page().Lock()
	defer g.Page().Unlock()
	if err := PutRecordAt(g.Page(), hf.hdr.layout(), rid.Slot, buf); err != nil {
		return err
	}
	g.MarkDirty(lsn)
	return nil
}

// DeleteRecord clears rid's bit and, if its page was previously full,
// splices the page onto the head of the free list.
func (hf *HeapFile) DeleteRecord(rid types.Rid, lsn uint64) error {
	g, err := hf.bp.Fetch(hf.globalID(rid.PageNo))
	if err != nil {
		return fmt.Errorf("heapfile delete_record: %w", err)
	}
	defer g.Release()

	g.Page().Lock()
	wasFull := IsFull(g.Page(), hf.hdr.layout())
	if err := DeleteRecord(g.Page(), hf.hdr.layout(), rid.Slot); err != nil {
		g.Page().Unlock()
		return fmt.Errorf("%w: %v", stratumerr.ErrRecordNotFound, err)
	}
	if wasFull {
		setNextFreePageNo(g.Page(), hf.hdr.FirstFreePageNo)
	}
	g.Page().Unlock()
	g.MarkDirty(lsn)

	if wasFull {
		hf.hdr.FirstFreePageNo = rid.PageNo
		if err := hf.persistHeader(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRecord overwrites rid's slot in place; record_size is fixed
// per table so this never requires relocation.
func (hf *HeapFile) UpdateRecord(rid types.Rid, buf []byte, lsn uint64) error {
	g, err := hf.bp.Fetch(hf.globalID(rid.PageNo))
	if err != nil {
		return fmt.Errorf("heapfile update_record: %w", err)
	}
	defer g.Release()
	g.Page().Lock()
	defer g.Page().Unlock()
	if err := PutRecordAt(g.Page(), hf.hdr.layout(), rid.Slot, buf); err != nil {
		return fmt.Errorf("%w: %v", stratumerr.ErrRecordNotFound, err)
	}
	g.MarkDirty(lsn)
	return nil
}

// Scan returns a forward iterator over every live record in the file.
func (hf *HeapFile) Scan() *ScanIterator {
	return &ScanIterator{hf: hf, pageNo: 0, slot: -1}
}

// ScanIterator walks live slots page by page using nextSetBit, per
// spec.md §4.1's scan semantics.
type ScanIterator struct {
	hf     *HeapFile
	pageNo int32
	slot   int32
	g      *bufferpool.Guard
}

// Next advances to the next live record, returning false at end of file.
func (it *ScanIterator) Next() (types.Rid, []byte, bool, error) {
	l := it.hf.hdr.layout()
	for it.pageNo < it.hf.hdr.NumPages {
		if it.g == nil {
			g, err := it.hf.bp.Fetch(it.hf.globalID(it.pageNo))
			if err != nil {
				return types.NoRid, nil, false, fmt.Errorf("heapfile scan: %w", err)
			}
			it.g = g
		}

		it.g.Page().RLock()
		bit := nextSetBit(it.g.Page(), l, it.slot+1)
		if bit < 0 {
			it.g.Page().RUnlock()
			it.g.Release()
			it.g = nil
			it.pageNo++
			it.slot = -1
			continue
		}
		buf, err := GetRecord(it.g.Page(), l, bit)
		it.g.Page().RUnlock()
		if err != nil {
			return types.NoRid, nil, false, err
		}
		it.slot = bit
		return types.Rid{PageNo: it.pageNo, Slot: bit}, buf, true, nil
	}
	return types.NoRid, nil, false, nil
}

func (it *ScanIterator) Close() error {
	if it.g != nil {
		err := it.g.Release()
		it.g = nil
		return err
	}
	return nil
}

func (hf *HeapFile) RecordSize() int32 { return hf.hdr.RecordSize }
func (hf *HeapFile) NumPages() int32   { return hf.hdr.NumPages }
