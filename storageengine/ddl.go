package storageengine

import (
	"fmt"

	"github.com/shivang/stratumdb/storageengine/access/bplustree"
	"github.com/shivang/stratumdb/storageengine/access/heapfile"
	"github.com/shivang/stratumdb/stratumerr"
	"github.com/shivang/stratumdb/types"
)

// DDL statements mutate the catalog directly, per spec.md §2's control
// flow ("DDL mutates the catalog directly"). None of it is logged to
// the WAL — spec.md §6's log-record kinds cover only row/index-entry
// mutations — so table/index creation is not transactional and is not
// undone by an abort.

// CreateTable registers a new table and creates its backing heap file.
func (s *Session) CreateTable(tableName string, cols []types.ColumnDef) error {
	schema := types.BuildSchema(tableName, cols)
	heapFileID, err := s.eng.cat.CreateTable(schema)
	if err != nil {
		return err
	}
	if err := s.eng.dm.OpenFileWithID(s.eng.heapFilePath(tableName), heapFileID); err != nil {
		return fmt.Errorf("storageengine: create table %s: %w", tableName, err)
	}
	if _, err := heapfile.Create(heapFileID, int32(schema.RecordSize), s.eng.dm, s.eng.bp); err != nil {
		return fmt.Errorf("storageengine: create table %s: %w", tableName, err)
	}
	return nil
}

// DropTable removes table's catalog registration. Its heap and index
// files are not reclaimed and are left on disk, orphaned — physical
// space reclamation is out of spec.md's scope.
func (s *Session) DropTable(tableName string) error {
	return s.eng.cat.DropTable(tableName)
}

// CreateIndex registers a new B+tree index over table's columns,
// creates its backing file, and backfills it from the table's current
// rows.
func (s *Session) CreateIndex(indexName, tableName string, columns []string, unique bool) error {
	schema, err := s.eng.cat.GetTableSchema(tableName)
	if err != nil {
		return err
	}
	desc := types.IndexDescriptor{Name: indexName, Table: tableName, Columns: columns, Unique: unique}
	keyCols, totLen, err := indexKeyColumns(schema, desc)
	if err != nil {
		return err
	}

	fileID, err := s.eng.cat.CreateIndex(desc)
	if err != nil {
		return err
	}
	desc.FileID = fileID

	if err := s.eng.dm.OpenFileWithID(s.eng.indexFilePath(indexName), fileID); err != nil {
		return fmt.Errorf("storageengine: create index %s: %w", indexName, err)
	}
	order := bplustree.DefaultOrder(totLen)
	bt, err := bplustree.Create(fileID, keyCols, order, s.eng.dm, s.eng.bp)
	if err != nil {
		return fmt.Errorf("storageengine: create index %s: %w", indexName, err)
	}
	return backfillIndex(s.eng, tableName, schema, desc, bt)
}

// DropIndex removes an index's catalog registration. Its B+tree file
// is left on disk, orphaned, matching DropTable's policy.
func (s *Session) DropIndex(tableName, indexName string) error {
	return s.eng.cat.DropIndex(tableName, indexName)
}

// ShowTables lists every registered table name.
func (s *Session) ShowTables() []string {
	return s.eng.cat.ListTables()
}

// ShowIndexFrom lists the indexes declared over table.
func (s *Session) ShowIndexFrom(table string) ([]types.IndexDescriptor, error) {
	if !s.eng.cat.TableExists(table) {
		return nil, fmt.Errorf("storageengine: table %q: %w", table, stratumerr.ErrTableNotFound)
	}
	return s.eng.cat.IndexesForTable(table), nil
}

// Describe returns a table's column definitions in declaration order.
func (s *Session) Describe(table string) (types.TableSchema, error) {
	return s.eng.cat.GetTableSchema(table)
}

// indexKeyColumns derives a B+tree's composite key layout from an
// index descriptor and its owning table's schema, mirroring
// exec.keyColumns (unexported there, needed here too since DDL and the
// executor both build index handles but live in separate packages).
func indexKeyColumns(schema types.TableSchema, desc types.IndexDescriptor) ([]bplustree.KeyColumn, int32, error) {
	cols := make([]bplustree.KeyColumn, 0, len(desc.Columns))
	offset := int32(0)
	for _, name := range desc.Columns {
		cd, ok := schema.ColumnByName(name)
		if !ok {
			return nil, 0, fmt.Errorf("storageengine: index %q: column %q not in table %q: %w", desc.Name, name, schema.TableName, stratumerr.ErrColumnNotFound)
		}
		cols = append(cols, bplustree.KeyColumn{Type: cd.Type, Len: int32(cd.Width), Offset: offset})
		offset += int32(cd.Width)
	}
	return cols, offset, nil
}

// backfillIndex populates a freshly created index from every row
// already live in table's heap, so CREATE INDEX works on a non-empty
// table, not only at table-creation time.
func backfillIndex(eng *Engine, table string, schema types.TableSchema, desc types.IndexDescriptor, bt *bplustree.BTree) error {
	fm, err := eng.cat.FileMappingFor(table)
	if err != nil {
		return err
	}
	hf, err := heapfile.Open(fm.HeapFileID, eng.dm, eng.bp)
	if err != nil {
		return err
	}
	it := hf.Scan()
	defer it.Close()
	for {
		rid, buf, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		var key []byte
		for _, name := range desc.Columns {
			cd, _ := schema.ColumnByName(name)
			key = append(key, buf[cd.Offset:cd.Offset+cd.Width]...)
		}
		if desc.Unique {
			if _, err := bt.Search(key); err == nil {
				return fmt.Errorf("storageengine: create index %s: duplicate key for unique index", desc.Name)
			}
		}
		if err := bt.Insert(key, rid, 0); err != nil {
			return fmt.Errorf("storageengine: create index %s: %w", desc.Name, err)
		}
	}
}
