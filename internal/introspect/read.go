package introspect

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Querier is implemented by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	tablesQuery = `
SELECT c.relname, c.relkind::text, COALESCE(obj_description(c.oid, 'pg_class'), '')
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relkind IN ('r', 'p', 'v', 'm') AND NOT c.relispartition
ORDER BY c.relname`

	columnsQuery = `
SELECT c.relname, a.attname, a.attnum,
	pg_catalog.format_type(a.atttypid, a.atttypmod),
	t.typname, t.typtype::text, COALESCE(et.typname, ''), COALESCE(et.typtype::text, ''),
	a.attnotnull,
	COALESCE(pg_catalog.pg_get_expr(d.adbin, d.adrelid), ''),
	a.attidentity::text <> '', a.attgenerated::text <> '',
	COALESCE(pg_catalog.col_description(c.oid, a.attnum), '')
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_type t ON t.oid = a.atttypid
LEFT JOIN pg_catalog.pg_type et ON et.oid = t.typelem AND t.typcategory = 'A'
LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE n.nspname = $1 AND c.relkind IN ('r', 'p', 'v', 'm') AND NOT c.relispartition
	AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY c.relname, a.attnum`

	constraintsQuery = `
SELECT c.relname, con.conname, con.contype::text,
	ARRAY(SELECT a.attname::text FROM unnest(con.conkey) WITH ORDINALITY k(attnum, ord)
		JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
		ORDER BY k.ord),
	COALESCE(fn.nspname, ''), COALESCE(fc.relname, ''),
	ARRAY(SELECT a.attname::text FROM unnest(con.confkey) WITH ORDINALITY k(attnum, ord)
		JOIN pg_catalog.pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
		ORDER BY k.ord)
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
LEFT JOIN pg_catalog.pg_namespace fn ON fn.oid = fc.relnamespace
WHERE n.nspname = $1 AND con.contype IN ('p', 'f', 'u') AND NOT c.relispartition
ORDER BY c.relname, con.conname`

	enumsQuery = `
SELECT t.typname, e.enumlabel
FROM pg_catalog.pg_type t
JOIN pg_catalog.pg_enum e ON e.enumtypid = t.oid
JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
WHERE n.nspname = $1
ORDER BY t.typname, e.enumsortorder`
)

// Raw catalog rows, assembled into a Schema by assemble.
type (
	tableRow struct {
		Name    string
		Kind    string
		Comment string
	}

	columnRow struct {
		Table       string
		Name        string
		Ordinal     int
		Type        string
		UDTName     string
		TypType     string
		ElementUDT  string
		ElementType string
		NotNull     bool
		Default     string
		Identity    bool
		Generated   bool
		Comment     string
	}

	constraintRow struct {
		Table      string
		Name       string
		Type       string
		Columns    []string
		RefSchema  string
		RefTable   string
		RefColumns []string
	}

	enumRow struct {
		Name  string
		Label string
	}
)

// Read introspects the schema selected by filter.
func Read(ctx context.Context, q Querier, filter Filter) (*Schema, error) {
	m, err := filter.Compile()
	if err != nil {
		return nil, err
	}
	name := m.Schema()

	tables, err := collect(ctx, q, tablesQuery, name, func(r pgx.CollectableRow) (tableRow, error) {
		var t tableRow
		err := r.Scan(&t.Name, &t.Kind, &t.Comment)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading tables of %s: %w", name, err)
	}

	columns, err := collect(ctx, q, columnsQuery, name, func(r pgx.CollectableRow) (columnRow, error) {
		var c columnRow
		err := r.Scan(&c.Table, &c.Name, &c.Ordinal, &c.Type, &c.UDTName, &c.TypType,
			&c.ElementUDT, &c.ElementType, &c.NotNull, &c.Default, &c.Identity, &c.Generated, &c.Comment)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", name, err)
	}

	constraints, err := collect(ctx, q, constraintsQuery, name, func(r pgx.CollectableRow) (constraintRow, error) {
		var c constraintRow
		err := r.Scan(&c.Table, &c.Name, &c.Type, &c.Columns, &c.RefSchema, &c.RefTable, &c.RefColumns)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading constraints of %s: %w", name, err)
	}

	enums, err := collect(ctx, q, enumsQuery, name, func(r pgx.CollectableRow) (enumRow, error) {
		var e enumRow
		err := r.Scan(&e.Name, &e.Label)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading enums of %s: %w", name, err)
	}

	return assemble(m, tables, columns, constraints, enums), nil
}

func collect[T any](ctx context.Context, q Querier, sql, schema string, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := q.Query(ctx, sql, schema)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}

// assemble builds the Schema from catalog rows, dropping tables rejected
// by m. The result is sorted independently of row order.
func assemble(m *Matcher, tables []tableRow, columns []columnRow, constraints []constraintRow, enums []enumRow) *Schema {
	s := &Schema{Name: m.Schema()}

	byName := map[string]*Table{}
	for _, tr := range tables {
		if !m.Match(tr.Name) {
			continue
		}
		t := &Table{Schema: s.Name, Name: tr.Name, Kind: tableKind(tr.Kind), Comment: tr.Comment}
		byName[t.Name] = t
		s.Tables = append(s.Tables, t)
	}

	for _, cr := range columns {
		t, ok := byName[cr.Table]
		if !ok {
			continue
		}
		c := &Column{
			Name:      cr.Name,
			Ordinal:   cr.Ordinal,
			Type:      cr.Type,
			UDTName:   cr.UDTName,
			NotNull:   cr.NotNull,
			Default:   cr.Default,
			Identity:  cr.Identity,
			Generated: cr.Generated,
			Comment:   cr.Comment,
		}
		if cr.ElementUDT != "" {
			c.ElementUDT = cr.ElementUDT
			c.IsEnum = cr.ElementType == "e"
		} else {
			c.IsEnum = cr.TypType == "e"
		}
		t.Columns = append(t.Columns, c)
	}

	for _, cr := range constraints {
		t, ok := byName[cr.Table]
		if !ok {
			continue
		}
		switch cr.Type {
		case "p":
			t.PrimaryKey = slices.Clone(cr.Columns)
		case "u":
			t.Uniques = append(t.Uniques, Unique{Name: cr.Name, Columns: slices.Clone(cr.Columns)})
		case "f":
			t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
				Name:       cr.Name,
				Columns:    slices.Clone(cr.Columns),
				RefSchema:  cr.RefSchema,
				RefTable:   cr.RefTable,
				RefColumns: slices.Clone(cr.RefColumns),
			})
		}
	}

	enumByName := map[string]*Enum{}
	for _, er := range enums {
		e, ok := enumByName[er.Name]
		if !ok {
			e = &Enum{Name: er.Name}
			enumByName[er.Name] = e
			s.Enums = append(s.Enums, e)
		}
		e.Labels = append(e.Labels, er.Label)
	}

	slices.SortFunc(s.Tables, func(a, b *Table) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(s.Enums, func(a, b *Enum) int { return strings.Compare(a.Name, b.Name) })
	for _, t := range s.Tables {
		slices.SortFunc(t.Columns, func(a, b *Column) int { return a.Ordinal - b.Ordinal })
		slices.SortFunc(t.ForeignKeys, func(a, b *ForeignKey) int { return strings.Compare(a.Name, b.Name) })
		slices.SortFunc(t.Uniques, func(a, b Unique) int { return strings.Compare(a.Name, b.Name) })
	}
	return s
}

func tableKind(relkind string) TableKind {
	switch relkind {
	case "v":
		return View
	case "m":
		return MaterializedView
	default:
		return BaseTable
	}
}
