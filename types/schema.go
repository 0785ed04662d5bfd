package types

// ColumnDef describes one column of a table: its declared type, its
// fixed on-disk width, and its byte offset within a serialized row
// (computed once when the schema is built, per spec.md's record_size
// model — every row in a table is the same fixed size).
type ColumnDef struct {
	Name         string
	Type         DataType
	Width        int
	Offset       int
	IsPrimaryKey bool
}

// TableSchema is the catalog's in-memory/persisted description of a
// table: its column list (in declared order) and the fixed record
// size derived from it.
type TableSchema struct {
	TableName  string
	Columns    []ColumnDef
	RecordSize int
}

// BuildSchema computes Offset/RecordSize for a column list in
// declaration order.
func BuildSchema(tableName string, cols []ColumnDef) TableSchema {
	offset := 0
	built := make([]ColumnDef, len(cols))
	for i, c := range cols {
		c.Offset = offset
		built[i] = c
		offset += c.Width
	}
	return TableSchema{TableName: tableName, Columns: built, RecordSize: offset}
}

// ColumnByName is a case-sensitive lookup used by the executor; the
// front end passes identifiers through in the case they were written.
func (s TableSchema) ColumnByName(name string) (ColumnDef, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// IndexDescriptor names the columns a B+tree index is keyed on, in
// leading-column order, and the file that stores it.
type IndexDescriptor struct {
	Name    string
	Table   string
	Columns []string
	FileID  uint32
	Unique  bool
}
