package exec

import (
	"fmt"

	"github.com/shivang/stratumdb/storageengine/access/bplustree"
	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/storageengine/bufferpool"
	"github.com/shivang/stratumdb/storageengine/catalog"
	"github.com/shivang/stratumdb/storageengine/diskmanager"
	"github.com/shivang/stratumdb/storageengine/txnmgr"
	"github.com/shivang/stratumdb/storageengine/wal"
	"github.com/shivang/stratumdb/types"
)

// Context is the per-session handle threaded through a statement's
// node tree: the active transaction plus every process-wide singleton
// spec.md §2 lists (catalog, log manager, lock manager), mirroring the
// session context DaemonDB's VM carries as struct fields.
type Context struct {
	Cat    *catalog.Manager
	Txn    *txnmgr.Transaction
	TxnMgr *txnmgr.Manager
	WAL    *wal.Manager
	DM     *diskmanager.DiskManager
	BP     *bufferpool.BufferPool

	heaps   map[uint32]*heapfile.HeapFile
	indexes map[uint32]*bplustree.BTree
}

func NewContext(cat *catalog.Manager, txn *txnmgr.Transaction, tm *txnmgr.Manager, w *wal.Manager, dm *diskmanager.DiskManager, bp *bufferpool.BufferPool) *Context {
	return &Context{
		Cat: cat, Txn: txn, TxnMgr: tm, WAL: w, DM: dm, BP: bp,
		heaps:   make(map[uint32]*heapfile.HeapFile),
		indexes: make(map[uint32]*bplustree.BTree),
	}
}

func (c *Context) heapFor(table string) (*heapfile.HeapFile, error) {
	fm, err := c.Cat.FileMappingFor(table)
	if err != nil {
		return nil, err
	}
	if hf, ok := c.heaps[fm.HeapFileID]; ok {
		return hf, nil
	}
	hf, err := heapfile.Open(fm.HeapFileID, c.DM, c.BP)
	if err != nil {
		return nil, err
	}
	c.heaps[fm.HeapFileID] = hf
	return hf, nil
}

func (c *Context) indexFor(table string, desc types.IndexDescriptor) (*bplustree.BTree, error) {
	if bt, ok := c.indexes[desc.FileID]; ok {
		return bt, nil
	}
	bt, err := bplustree.Open(desc.FileID, c.DM, c.BP)
	if err != nil {
		return nil, err
	}
	c.indexes[desc.FileID] = bt
	return bt, nil
}

// keyColumns derives a B+tree's composite key layout from an index
// descriptor and the owning table's schema, per spec.md §6's index
// file header (col_type/col_len/col_offset, packed by declared width).
func keyColumns(schema types.TableSchema, desc types.IndexDescriptor) ([]bplustree.KeyColumn, error) {
	cols := make([]bplustree.KeyColumn, 0, len(desc.Columns))
	offset := int32(0)
	for _, name := range desc.Columns {
		cd, ok := schema.ColumnByName(name)
		if !ok {
			return nil, fmt.Errorf("exec: index %q: column %q not in table %q", desc.Name, name, schema.TableName)
		}
		cols = append(cols, bplustree.KeyColumn{Type: cd.Type, Len: int32(cd.Width), Offset: offset})
		offset += int32(cd.Width)
	}
	return cols, nil
}

// encodeCompositeKey builds the composite probe/insert key for an
// index from a fully decoded row, extracting and re-encoding each key
// column's bytes in index-column order.
func encodeCompositeKey(schema types.TableSchema, desc types.IndexDescriptor, row []byte) ([]byte, error) {
	var key []byte
	for _, name := range desc.Columns {
		cd, ok := schema.ColumnByName(name)
		if !ok {
			return nil, fmt.Errorf("exec: index %q: column %q not in table %q", desc.Name, name, schema.TableName)
		}
		key = append(key, row[cd.Offset:cd.Offset+cd.Width]...)
	}
	return key, nil
}
