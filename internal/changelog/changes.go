package changelog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrewkroh/pgsourcegen/internal/pgident"
)

// The change types below carry both yaml and xml tags so that the YAML,
// JSON and XML parsers share them.

// SQLChange runs raw SQL.
type SQLChange struct {
	SQL             string `yaml:"sql" xml:",chardata"`
	SplitStatements *bool  `yaml:"splitStatements" xml:"splitStatements,attr"`
	EndDelimiter    string `yaml:"endDelimiter" xml:"endDelimiter,attr"`
	StripComments   bool   `yaml:"stripComments" xml:"stripComments,attr"`
}

// SQLFileChange runs the SQL contained in another file.
type SQLFileChange struct {
	Path                    string `yaml:"path" xml:"path,attr"`
	RelativeToChangelogFile bool   `yaml:"relativeToChangelogFile" xml:"relativeToChangelogFile,attr"`
	SplitStatements         *bool  `yaml:"splitStatements" xml:"splitStatements,attr"`
	EndDelimiter            string `yaml:"endDelimiter" xml:"endDelimiter,attr"`
	StripComments           bool   `yaml:"stripComments" xml:"stripComments,attr"`
}

// Column describes a column of createTable or addColumn.
type Column struct {
	Name                 string       `yaml:"name" xml:"name,attr"`
	Type                 string       `yaml:"type" xml:"type,attr"`
	AutoIncrement        bool         `yaml:"autoIncrement" xml:"autoIncrement,attr"`
	DefaultValue         *string      `yaml:"defaultValue" xml:"defaultValue,attr"`
	DefaultValueNumeric  string       `yaml:"defaultValueNumeric" xml:"defaultValueNumeric,attr"`
	DefaultValueBoolean  *bool        `yaml:"defaultValueBoolean" xml:"defaultValueBoolean,attr"`
	DefaultValueComputed string       `yaml:"defaultValueComputed" xml:"defaultValueComputed,attr"`
	Remarks              string       `yaml:"remarks" xml:"remarks,attr"`
	Constraints          *Constraints `yaml:"constraints" xml:"constraints"`
}

// Constraints are the inline constraints of a column.
type Constraints struct {
	PrimaryKey            bool   `yaml:"primaryKey" xml:"primaryKey,attr"`
	PrimaryKeyName        string `yaml:"primaryKeyName" xml:"primaryKeyName,attr"`
	Nullable              *bool  `yaml:"nullable" xml:"nullable,attr"`
	Unique                bool   `yaml:"unique" xml:"unique,attr"`
	UniqueConstraintName  string `yaml:"uniqueConstraintName" xml:"uniqueConstraintName,attr"`
	References            string `yaml:"references" xml:"references,attr"`
	ReferencedTableName   string `yaml:"referencedTableName" xml:"referencedTableName,attr"`
	ReferencedColumnNames string `yaml:"referencedColumnNames" xml:"referencedColumnNames,attr"`
	ForeignKeyName        string `yaml:"foreignKeyName" xml:"foreignKeyName,attr"`
	DeleteCascade         bool   `yaml:"deleteCascade" xml:"deleteCascade,attr"`
}

// columnItem is the YAML wrapper around a column ("- column: {...}").
type columnItem struct {
	Column Column `yaml:"column"`
}

// CreateTableChange creates a table.
type CreateTableChange struct {
	SchemaName string       `yaml:"schemaName" xml:"schemaName,attr"`
	TableName  string       `yaml:"tableName" xml:"tableName,attr"`
	Remarks    string       `yaml:"remarks" xml:"remarks,attr"`
	Columns    []columnItem `yaml:"columns" xml:"-"`
	XMLColumns []Column     `yaml:"-" xml:"column"`
}

// AddColumnChange adds columns to an existing table.
type AddColumnChange struct {
	SchemaName string       `yaml:"schemaName" xml:"schemaName,attr"`
	TableName  string       `yaml:"tableName" xml:"tableName,attr"`
	Columns    []columnItem `yaml:"columns" xml:"-"`
	XMLColumns []Column     `yaml:"-" xml:"column"`
}

// DropTableChange drops a table.
type DropTableChange struct {
	SchemaName         string `yaml:"schemaName" xml:"schemaName,attr"`
	TableName          string `yaml:"tableName" xml:"tableName,attr"`
	CascadeConstraints bool   `yaml:"cascadeConstraints" xml:"cascadeConstraints,attr"`
}

// CreateIndexChange creates an index.
type CreateIndexChange struct {
	SchemaName string       `yaml:"schemaName" xml:"schemaName,attr"`
	TableName  string       `yaml:"tableName" xml:"tableName,attr"`
	IndexName  string       `yaml:"indexName" xml:"indexName,attr"`
	Unique     bool         `yaml:"unique" xml:"unique,attr"`
	Columns    []columnItem `yaml:"columns" xml:"-"`
	XMLColumns []Column     `yaml:"-" xml:"column"`
}

func mergeColumns(items []columnItem, xmlCols []Column) []Column {
	cols := make([]Column, 0, len(items)+len(xmlCols))
	for _, it := range items {
		cols = append(cols, it.Column)
	}
	return append(cols, xmlCols...)
}

func (c *SQLChange) toChange() (Change, error) {
	if strings.TrimSpace(c.SQL) == "" {
		return Change{}, fmt.Errorf("sql: statement text is required")
	}
	return Change{
		Kind:        "sql",
		Description: "sql",
		Statements:  prepareSQL(c.SQL, c.SplitStatements, c.EndDelimiter, c.StripComments),
	}, nil
}

// toChange reads the referenced file. from is the absolute path of the
// changelog file declaring the change; root is the root changelog
// directory.
func (c *SQLFileChange) toChange(from, root string) (Change, error) {
	if c.Path == "" {
		return Change{}, fmt.Errorf("sqlFile: path is required")
	}
	p := filepath.FromSlash(c.Path)
	if !filepath.IsAbs(p) {
		if c.RelativeToChangelogFile {
			p = filepath.Join(filepath.Dir(from), p)
		} else {
			p = filepath.Join(root, p)
		}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Change{}, fmt.Errorf("sqlFile: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return Change{}, fmt.Errorf("sqlFile %s: file is empty", c.Path)
	}
	return Change{
		Kind:        "sqlFile",
		Description: "sqlFile path=" + c.Path,
		Statements:  prepareSQL(string(data), c.SplitStatements, c.EndDelimiter, c.StripComments),
	}, nil
}

func (c *CreateTableChange) toChange() (Change, error) {
	if c.TableName == "" {
		return Change{}, fmt.Errorf("createTable: tableName is required")
	}
	cols := mergeColumns(c.Columns, c.XMLColumns)
	if len(cols) == 0 {
		return Change{}, fmt.Errorf("createTable %s: at least one column is required", c.TableName)
	}

	table := pgident.QuoteQualified(c.SchemaName, c.TableName)
	var defs []string
	var pk []string
	pkName := ""
	for _, col := range cols {
		def, err := columnDefinition(col, false)
		if err != nil {
			return Change{}, fmt.Errorf("createTable %s: %w", c.TableName, err)
		}
		defs = append(defs, def)
		if col.Constraints != nil && col.Constraints.PrimaryKey {
			pk = append(pk, pgident.Quote(col.Name))
			if col.Constraints.PrimaryKeyName != "" {
				pkName = col.Constraints.PrimaryKeyName
			}
		}
	}
	if len(pk) > 0 {
		constraint := "PRIMARY KEY (" + strings.Join(pk, ", ") + ")"
		if pkName != "" {
			constraint = "CONSTRAINT " + pgident.Quote(pkName) + " " + constraint
		}
		defs = append(defs, constraint)
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))}
	stmts = append(stmts, remarks(table, c.Remarks, cols)...)
	return Change{
		Kind:        "createTable",
		Description: "createTable tableName=" + c.TableName,
		Statements:  stmts,
	}, nil
}

func (c *AddColumnChange) toChange() (Change, error) {
	if c.TableName == "" {
		return Change{}, fmt.Errorf("addColumn: tableName is required")
	}
	cols := mergeColumns(c.Columns, c.XMLColumns)
	if len(cols) == 0 {
		return Change{}, fmt.Errorf("addColumn %s: at least one column is required", c.TableName)
	}

	table := pgident.QuoteQualified(c.SchemaName, c.TableName)
	var stmts []string
	var names []string
	for _, col := range cols {
		def, err := columnDefinition(col, true)
		if err != nil {
			return Change{}, fmt.Errorf("addColumn %s: %w", c.TableName, err)
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, def))
		names = append(names, col.Name)
	}
	stmts = append(stmts, remarks(table, "", cols)...)
	return Change{
		Kind:        "addColumn",
		Description: "addColumn tableName=" + c.TableName + " columns=" + strings.Join(names, ","),
		Statements:  stmts,
	}, nil
}

func (c *DropTableChange) toChange() (Change, error) {
	if c.TableName == "" {
		return Change{}, fmt.Errorf("dropTable: tableName is required")
	}
	stmt := "DROP TABLE " + pgident.QuoteQualified(c.SchemaName, c.TableName)
	if c.CascadeConstraints {
		stmt += " CASCADE"
	}
	return Change{
		Kind:        "dropTable",
		Description: "dropTable tableName=" + c.TableName,
		Statements:  []string{stmt},
	}, nil
}

func (c *CreateIndexChange) toChange() (Change, error) {
	if c.TableName == "" {
		return Change{}, fmt.Errorf("createIndex: tableName is required")
	}
	cols := mergeColumns(c.Columns, c.XMLColumns)
	if len(cols) == 0 {
		return Change{}, fmt.Errorf("createIndex on %s: at least one column is required", c.TableName)
	}

	names := make([]string, 0, len(cols))
	for _, col := range cols {
		names = append(names, pgident.Quote(col.Name))
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if c.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if c.IndexName != "" {
		b.WriteString(pgident.Quote(c.IndexName))
		b.WriteString(" ")
	}
	b.WriteString("ON ")
	b.WriteString(pgident.QuoteQualified(c.SchemaName, c.TableName))
	b.WriteString(" (")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(")")

	desc := "createIndex tableName=" + c.TableName
	if c.IndexName != "" {
		desc = "createIndex indexName=" + c.IndexName + ", tableName=" + c.TableName
	}
	return Change{
		Kind:        "createIndex",
		Description: desc,
		Statements:  []string{b.String()},
	}, nil
}

// columnDefinition renders "name type [constraints]". Primary keys are
// rendered as a table constraint by createTable; addColumn renders them
// inline.
func columnDefinition(col Column, inlinePK bool) (string, error) {
	if col.Name == "" {
		return "", fmt.Errorf("column name is required")
	}
	if col.Type == "" {
		return "", fmt.Errorf("column %s: type is required", col.Name)
	}

	var b strings.Builder
	b.WriteString(pgident.Quote(col.Name))
	b.WriteString(" ")
	b.WriteString(col.Type)

	if col.AutoIncrement {
		b.WriteString(" GENERATED BY DEFAULT AS IDENTITY")
	}

	switch {
	case col.DefaultValue != nil:
		b.WriteString(" DEFAULT ")
		b.WriteString(quoteLiteral(*col.DefaultValue))
	case col.DefaultValueNumeric != "":
		b.WriteString(" DEFAULT ")
		b.WriteString(col.DefaultValueNumeric)
	case col.DefaultValueBoolean != nil:
		if *col.DefaultValueBoolean {
			b.WriteString(" DEFAULT TRUE")
		} else {
			b.WriteString(" DEFAULT FALSE")
		}
	case col.DefaultValueComputed != "":
		b.WriteString(" DEFAULT ")
		b.WriteString(col.DefaultValueComputed)
	}

	if c := col.Constraints; c != nil {
		if c.PrimaryKey && inlinePK {
			b.WriteString(" PRIMARY KEY")
		}
		if (c.Nullable != nil && !*c.Nullable) || c.PrimaryKey {
			b.WriteString(" NOT NULL")
		}
		if c.Unique {
			if c.UniqueConstraintName != "" {
				b.WriteString(" CONSTRAINT ")
				b.WriteString(pgident.Quote(c.UniqueConstraintName))
			}
			b.WriteString(" UNIQUE")
		}
		if ref := references(c); ref != "" {
			if c.ForeignKeyName != "" {
				b.WriteString(" CONSTRAINT ")
				b.WriteString(pgident.Quote(c.ForeignKeyName))
			}
			b.WriteString(" REFERENCES ")
			b.WriteString(ref)
			if c.DeleteCascade {
				b.WriteString(" ON DELETE CASCADE")
			}
		}
	}
	return b.String(), nil
}

// references returns the REFERENCES target. The "references" attribute is
// used verbatim, e.g. "users(id)".
func references(c *Constraints) string {
	if c.References != "" {
		return c.References
	}
	if c.ReferencedTableName == "" {
		return ""
	}
	ref := pgident.Quote(c.ReferencedTableName)
	if c.ReferencedColumnNames != "" {
		var cols []string
		for _, name := range strings.Split(c.ReferencedColumnNames, ",") {
			cols = append(cols, pgident.Quote(strings.TrimSpace(name)))
		}
		ref += "(" + strings.Join(cols, ", ") + ")"
	}
	return ref
}

func remarks(table, tableRemarks string, cols []Column) []string {
	var stmts []string
	if tableRemarks != "" {
		stmts = append(stmts, fmt.Sprintf("COMMENT ON TABLE %s IS %s", table, quoteLiteral(tableRemarks)))
	}
	for _, col := range cols {
		if col.Remarks == "" {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", table, pgident.Quote(col.Name), quoteLiteral(col.Remarks)))
	}
	return stmts
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// prepareSQL applies the split and comment options shared by sql and
// sqlFile changes.
func prepareSQL(script string, split *bool, delimiter string, strip bool) []string {
	if strip {
		script = StripComments(script)
	}
	if split != nil && !*split {
		s := strings.TrimSpace(script)
		if s == "" {
			return nil
		}
		return []string{s}
	}
	if delimiter == "" {
		delimiter = ";"
	}
	return SplitStatements(script, delimiter)
}
