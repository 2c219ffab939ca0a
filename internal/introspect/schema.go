// Package introspect reads table, column, constraint and enum metadata of
// a PostgreSQL schema from the system catalogs.
package introspect

// TableKind distinguishes base tables from views.
type TableKind string

const (
	BaseTable        TableKind = "table"
	View             TableKind = "view"
	MaterializedView TableKind = "materialized_view"
)

// Schema is the introspected content of one database schema.
type Schema struct {
	Name   string
	Tables []*Table // Sorted by name.
	Enums  []*Enum  // Sorted by name.
}

// Table describes a table or view.
type Table struct {
	Schema      string
	Name        string
	Kind        TableKind
	Comment     string
	Columns     []*Column // Ordinal order.
	PrimaryKey  []string  // Column names in key order.
	ForeignKeys []*ForeignKey
	Uniques     []Unique
}

// Column describes a table column.
type Column struct {
	Name       string
	Ordinal    int
	Type       string // Formatted type, e.g. "character varying(64)".
	UDTName    string // Underlying type name, e.g. "varchar", "_int4".
	ElementUDT string // Element type name for arrays.
	IsEnum     bool
	NotNull    bool
	Default    string
	Identity   bool
	Generated  bool
	Comment    string
}

// ForeignKey describes a foreign key constraint.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefSchema  string
	RefTable   string
	RefColumns []string
}

// Unique describes a unique constraint.
type Unique struct {
	Name    string
	Columns []string
}

// Enum is a user defined enum type.
type Enum struct {
	Name   string
	Labels []string // Sort order.
}

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// IsPrimaryKey reports whether name is part of the primary key.
func (t *Table) IsPrimaryKey(name string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return false
}

// IsUnique reports whether the single column name is covered by a primary
// key or unique constraint on its own.
func (t *Table) IsUnique(name string) bool {
	if len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == name {
		return true
	}
	for _, u := range t.Uniques {
		if len(u.Columns) == 1 && u.Columns[0] == name {
			return true
		}
	}
	return false
}

// Table returns the named table or nil.
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Enum returns the named enum or nil.
func (s *Schema) Enum(name string) *Enum {
	for _, e := range s.Enums {
		if e.Name == name {
			return e
		}
	}
	return nil
}
