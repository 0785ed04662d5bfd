// Package catalog is the metadata collaborator from spec.md §1: table
// schemas, index descriptors, and the table/index-name to file-ID
// mapping that the record manager and B+tree index rely on to find
// their backing files.
//
// Grounded on DaemonDB/storage_engine/catalog/main.go for the overall
// shape (schema JSON files, in-memory maps, register/unregister), with
// two changes: the loose table_file_mapping.json/next_file_id.json
// pair is replaced by a single bbolt database (grounded on
// leftmike-maho.v1/engine/bbolt/bbolt.go's bucket layout), and schema
// and per-table index-list lookups are fronted by a ristretto cache.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/shivang/stratumdb/stratumerr"
	"github.com/shivang/stratumdb/types"
)

var (
	bucketTables   = []byte("tables")
	bucketIndexes  = []byte("indexes")
	bucketCounters = []byte("counters")
	keyNextFileID  = []byte("next_file_id")
)

// FileMapping records the file IDs a table's heap and, if any index
// was declared over it, its B+tree live in.
type FileMapping struct {
	HeapFileID uint32          `json:"heap_file_id"`
	Indexes    map[string]uint32 `json:"indexes"` // index name -> file ID
}

// Manager is the catalog collaborator: schema JSON files on disk, a
// bbolt-backed file-ID registry, and a ristretto front cache over both.
type Manager struct {
	mu       sync.RWMutex
	dbRoot   string
	db       *bolt.DB
	cache    *ristretto.Cache[string, any]
	nextFile uint32

	schemas map[string]types.TableSchema
	indexes map[string][]types.IndexDescriptor // table -> its indexes
	files   map[string]FileMapping
}

// Open opens (creating if absent) the catalog rooted at dbRoot.
func Open(dbRoot string) (*Manager, error) {
	if err := os.MkdirAll(dbRoot, 0755); err != nil {
		return nil, fmt.Errorf("catalog: mkdir %s: %w", dbRoot, err)
	}

	db, err := bolt.Open(filepath.Join(dbRoot, "catalog.db"), 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: open bbolt: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: new ristretto cache: %w", err)
	}

	m := &Manager{
		dbRoot:   dbRoot,
		db:       db,
		cache:    cache,
		nextFile: 1,
		schemas:  make(map[string]types.TableSchema),
		indexes:  make(map[string][]types.IndexDescriptor),
		files:    make(map[string]FileMapping),
	}

	if err := m.loadFromBolt(); err != nil {
		db.Close()
		return nil, err
	}
	if err := m.loadSchemas(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) Close() error {
	m.cache.Close()
	return m.db.Close()
}

func (m *Manager) loadFromBolt() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		tbl, err := tx.CreateBucketIfNotExists(bucketTables)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketIndexes); err != nil {
			return err
		}
		counters, err := tx.CreateBucketIfNotExists(bucketCounters)
		if err != nil {
			return err
		}

		if v := counters.Get(keyNextFileID); v != nil {
			var n uint32
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("catalog: corrupt next_file_id: %w", err)
			}
			m.nextFile = n
		}

		return tbl.ForEach(func(k, v []byte) error {
			var fm FileMapping
			if err := json.Unmarshal(v, &fm); err != nil {
				return fmt.Errorf("catalog: corrupt file mapping for %s: %w", k, err)
			}
			m.files[string(k)] = fm
			return nil
		})
	})
}

func (m *Manager) tablesDir() string { return filepath.Join(m.dbRoot, "tables") }

func (m *Manager) loadSchemas() error {
	for name := range m.files {
		schema, err := m.readSchemaFile(name)
		if err != nil {
			return err
		}
		m.schemas[name] = schema
	}
	return nil
}

func (m *Manager) schemaPath(table string) string {
	return filepath.Join(m.tablesDir(), table+"_schema.json")
}

func (m *Manager) readSchemaFile(table string) (types.TableSchema, error) {
	data, err := os.ReadFile(m.schemaPath(table))
	if err != nil {
		return types.TableSchema{}, fmt.Errorf("catalog: read schema for %s: %w", table, err)
	}
	var schema types.TableSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return types.TableSchema{}, fmt.Errorf("catalog: parse schema for %s: %w", table, err)
	}
	return schema, nil
}

// GetTableSchema returns table's schema, checked against the ristretto
// cache before the in-memory map (which is itself fully populated at
// Open, but the cache keeps hot lookups off the RWMutex fast path).
func (m *Manager) GetTableSchema(table string) (types.TableSchema, error) {
	cacheKey := "schema:" + table
	if v, ok := m.cache.Get(cacheKey); ok {
		return v.(types.TableSchema), nil
	}

	m.mu.RLock()
	schema, ok := m.schemas[table]
	m.mu.RUnlock()
	if !ok {
		return types.TableSchema{}, fmt.Errorf("catalog: table %q: %w", table, stratumerr.ErrTableNotFound)
	}
	m.cache.Set(cacheKey, schema, 1)
	return schema, nil
}

// CreateTable registers a new table: allocates its heap file ID,
// persists the schema to disk, and records the mapping in bbolt.
func (m *Manager) CreateTable(schema types.TableSchema) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schemas[schema.TableName]; exists {
		return 0, fmt.Errorf("catalog: table %q: %w", schema.TableName, stratumerr.ErrTableExists)
	}

	heapFileID := m.nextFile
	m.nextFile++

	if err := os.MkdirAll(m.tablesDir(), 0755); err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(m.schemaPath(schema.TableName), data, 0644); err != nil {
		return 0, fmt.Errorf("catalog: persist schema: %w", err)
	}

	fm := FileMapping{HeapFileID: heapFileID, Indexes: make(map[string]uint32)}
	if err := m.persistTable(schema.TableName, fm); err != nil {
		return 0, err
	}

	m.schemas[schema.TableName] = schema
	m.files[schema.TableName] = fm
	m.cache.Del("schema:" + schema.TableName)
	log.WithField("table", schema.TableName).WithField("heap_file_id", heapFileID).Info("catalog: table created")
	return heapFileID, nil
}

// DropTable removes a table's schema and file mapping. Callers are
// responsible for reclaiming its heap/index files beforehand.
func (m *Manager) DropTable(table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schemas[table]; !exists {
		return fmt.Errorf("catalog: table %q: %w", table, stratumerr.ErrTableNotFound)
	}
	delete(m.schemas, table)
	delete(m.files, table)
	delete(m.indexes, table)
	m.cache.Del("schema:" + table)

	if err := os.Remove(m.schemaPath(table)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("catalog: delete schema file: %w", err)
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTables).Delete([]byte(table))
	})
}

// CreateIndex allocates a file ID for a new B+tree index over table
// and persists the descriptor.
func (m *Manager) CreateIndex(desc types.IndexDescriptor) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fm, ok := m.files[desc.Table]
	if !ok {
		return 0, fmt.Errorf("catalog: table %q: %w", desc.Table, stratumerr.ErrTableNotFound)
	}
	if _, exists := fm.Indexes[desc.Name]; exists {
		return 0, fmt.Errorf("catalog: index %q: %w", desc.Name, stratumerr.ErrIndexExists)
	}

	fileID := m.nextFile
	m.nextFile++
	desc.FileID = fileID
	fm.Indexes[desc.Name] = fileID
	m.files[desc.Table] = fm
	m.indexes[desc.Table] = append(m.indexes[desc.Table], desc)

	if err := m.persistTable(desc.Table, fm); err != nil {
		return 0, err
	}
	if err := m.persistIndex(desc); err != nil {
		return 0, err
	}
	m.cache.Del("indexlist:" + desc.Table)
	return fileID, nil
}

// DropIndex removes index's registration from table's file mapping and
// its persisted descriptor. Callers are responsible for reclaiming its
// B+tree file beforehand.
func (m *Manager) DropIndex(table, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fm, ok := m.files[table]
	if !ok {
		return fmt.Errorf("catalog: table %q: %w", table, stratumerr.ErrTableNotFound)
	}
	if _, exists := fm.Indexes[index]; !exists {
		return fmt.Errorf("catalog: index %q: %w", index, stratumerr.ErrIndexNotFound)
	}
	delete(fm.Indexes, index)
	m.files[table] = fm

	list := m.indexes[table]
	for i, desc := range list {
		if desc.Name == index {
			m.indexes[table] = append(list[:i], list[i+1:]...)
			break
		}
	}
	m.cache.Del("indexlist:" + table)

	if err := m.persistTable(table, fm); err != nil {
		return err
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).Delete([]byte(table + "." + index))
	})
}

// IndexesForTable returns the indexes declared over table, via the
// ristretto cache when present.
func (m *Manager) IndexesForTable(table string) []types.IndexDescriptor {
	cacheKey := "indexlist:" + table
	if v, ok := m.cache.Get(cacheKey); ok {
		return v.([]types.IndexDescriptor)
	}
	m.mu.RLock()
	list := append([]types.IndexDescriptor(nil), m.indexes[table]...)
	m.mu.RUnlock()
	m.cache.Set(cacheKey, list, int64(len(list)+1))
	return list
}

func (m *Manager) FileMappingFor(table string) (FileMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fm, ok := m.files[table]
	if !ok {
		return FileMapping{}, fmt.Errorf("catalog: table %q: %w", table, stratumerr.ErrTableNotFound)
	}
	return fm, nil
}

func (m *Manager) TableExists(table string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.schemas[table]
	return ok
}

func (m *Manager) ListTables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.schemas))
	for name := range m.schemas {
		names = append(names, name)
	}
	return names
}

// persistTable assumes m.mu is held.
func (m *Manager) persistTable(table string, fm FileMapping) error {
	data, err := json.Marshal(fm)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTables).Put([]byte(table), data); err != nil {
			return err
		}
		next, err := json.Marshal(m.nextFile)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCounters).Put(keyNextFileID, next)
	})
}

func (m *Manager) persistIndex(desc types.IndexDescriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	key := []byte(desc.Table + "." + desc.Name)
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).Put(key, data)
	})
}
