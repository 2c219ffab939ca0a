package generator

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/andrewkroh/pgsourcegen/internal/introspect"
	"github.com/andrewkroh/pgsourcegen/internal/pgident"
)

// model is the schema resolved into Go names and types.
type model struct {
	Schema string
	Tables []*tableModel // Sorted by table name.
	Enums  []*enumModel  // Sorted by enum name.
}

type tableModel struct {
	Table  *introspect.Table
	GoName string // Value object type.
	Doc    string
	Fields []*fieldModel
}

type fieldModel struct {
	Column     *introspect.Column
	GoName     string
	JSONName   string
	Doc        string
	Type       GoTypeRef
	// TextType is the SQL type, of the column or of its elements, whose
	// values are read and written as text. It is set for enums and for
	// types that pgx would otherwise transfer in binary into a string.
	TextType   string
	Overridden bool // Type set by an augmentation.
}

type enumModel struct {
	Enum   *introspect.Enum
	GoName string
	Doc    string
	Values []enumValue
}

type enumValue struct {
	GoName string
	Label  string
}

func buildModel(s *introspect.Schema) *model {
	m := &model{Schema: s.Name}

	enumTypes := map[string]string{}
	for _, e := range s.Enums {
		em := &enumModel{
			Enum:   e,
			GoName: ToTypeName(e.Name, "Enum"),
			Doc:    fmt.Sprintf("%s is the enum type %s.", ToTypeName(e.Name, "Enum"), e.Name),
		}
		for _, l := range e.Labels {
			em.Values = append(em.Values, enumValue{GoName: enumConstName(em.GoName, l), Label: l})
		}
		enumTypes[e.Name] = em.GoName
		m.Enums = append(m.Enums, em)
	}

	mapper := NewTypeMapper(enumTypes)
	for _, t := range s.Tables {
		tm := &tableModel{
			Table:  t,
			GoName: ToTypeName(t.Name, "Table"),
			Doc:    t.Comment,
		}
		for _, c := range t.Columns {
			f := &fieldModel{
				Column:   c,
				GoName:   ToTypeName(c.Name, "Column"+strconv.Itoa(c.Ordinal)),
				JSONName: c.Name,
				Doc:      c.Comment,
				Type:     mapper.Map(c),
			}
			f.TextType = textType(c, mapper)
			tm.Fields = append(tm.Fields, f)
		}
		m.Tables = append(m.Tables, tm)
	}
	return m
}

func (m *model) table(name string) *tableModel {
	for _, t := range m.Tables {
		if t.Table.Name == name {
			return t
		}
	}
	return nil
}

func (m *model) enum(name string) *enumModel {
	for _, e := range m.Enums {
		if e.Enum.Name == name {
			return e
		}
	}
	return nil
}

func (m *model) remove(t *tableModel) {
	m.Tables = slices.DeleteFunc(m.Tables, func(x *tableModel) bool { return x == t })
}

// renameEnum renames an enum type and updates its constants and every
// field referencing it.
func (m *model) renameEnum(e *enumModel, name string) {
	old := e.GoName
	e.GoName = name
	for i := range e.Values {
		v := &e.Values[i]
		if strings.HasPrefix(v.GoName, old) {
			v.GoName = name + v.GoName[len(old):]
		}
	}
	if strings.HasPrefix(e.Doc, old+" ") {
		e.Doc = name + e.Doc[len(old):]
	}
	for _, t := range m.Tables {
		for _, f := range t.Fields {
			if !f.Overridden {
				updateTypeRef(&f.Type, old, name)
			}
		}
	}
}

// updateTypeRef replaces references to the local type oldName with newName.
func updateTypeRef(ref *GoTypeRef, oldName, newName string) {
	if ref.Package == "" && ref.Name == oldName {
		ref.Name = newName
	}
	if ref.Element != nil {
		updateTypeRef(ref.Element, oldName, newName)
	}
}

func (t *tableModel) rename(name string) { t.GoName = name }

func (t *tableModel) field(column string) *fieldModel {
	for _, f := range t.Fields {
		if f.Column.Name == column {
			return f
		}
	}
	return nil
}

// Derived Go names.
func (t *tableModel) recordName() string { return t.GoName + "Record" }
func (t *tableModel) daoName() string    { return t.GoName + "DAO" }
func (t *tableModel) tableConst() string { return "Table" + t.GoName }

func (t *tableModel) columnConst(f *fieldModel) string {
	return t.GoName + "Column" + f.GoName
}

func (t *tableModel) isBaseTable() bool { return t.Table.Kind == introspect.BaseTable }

// primaryKey returns the key fields in key order.
func (t *tableModel) primaryKey() []*fieldModel {
	var pk []*fieldModel
	for _, name := range t.Table.PrimaryKey {
		if f := t.field(name); f != nil {
			pk = append(pk, f)
		}
	}
	if len(pk) != len(t.Table.PrimaryKey) {
		return nil
	}
	return pk
}

// insertable returns the fields written by Insert. Identity, serial and
// generated columns are assigned by the database.
func (t *tableModel) insertable() []*fieldModel {
	var out []*fieldModel
	for _, f := range t.Fields {
		if f.Column.Identity || f.Column.Generated || strings.HasPrefix(f.Column.Default, "nextval(") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// updatable returns the fields written by Update.
func (t *tableModel) updatable() []*fieldModel {
	var out []*fieldModel
	for _, f := range t.insertable() {
		if t.Table.IsPrimaryKey(f.Column.Name) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// quotedTable is the table name as written in generated SQL. Names are
// not schema qualified so the code works against any schema on the
// search path.
func (t *tableModel) quotedTable() string { return pgident.QuoteAlways(t.Table.Name) }

// selectList returns the column list used by every generated SELECT and
// RETURNING clause. Enum and unmapped columns are read as text.
func (t *tableModel) selectList() string {
	cols := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		cols = append(cols, f.selectExpr())
	}
	return strings.Join(cols, ", ")
}

func (f *fieldModel) quoted() string { return pgident.QuoteAlways(f.Column.Name) }

func (f *fieldModel) selectExpr() string {
	switch {
	case f.TextType == "":
		return f.quoted()
	case f.Column.ElementUDT != "":
		return f.quoted() + "::text[]"
	default:
		return f.quoted() + "::text"
	}
}

// param returns the placeholder for the n-th argument bound to the
// column. Text transferred values are cast by the server.
func (f *fieldModel) param(n int) string {
	p := "$" + strconv.Itoa(n)
	switch {
	case f.TextType == "":
		return p
	case f.Column.ElementUDT != "":
		return p + "::text[]::" + f.TextType + "[]"
	default:
		return p + "::text::" + f.TextType
	}
}

// arrayParam returns the placeholder for a slice of column values, as
// used with "= ANY(...)".
func (f *fieldModel) arrayParam(n int) string {
	p := "$" + strconv.Itoa(n)
	if f.TextType != "" {
		return p + "::text[]::" + f.TextType + "[]"
	}
	return p
}

// textType returns the SQL type a column's values are cast to from text,
// or "" if pgx scans the column into its mapped Go type directly. Enums
// are cast by name. Other unmapped types keep their modifiers, e.g.
// bit(8), so that the cast does not truncate.
func textType(c *introspect.Column, mapper *TypeMapper) string {
	udt := c.UDTName
	if c.ElementUDT != "" {
		udt = c.ElementUDT
	}
	if c.IsEnum {
		return pgident.QuoteAlways(udt)
	}
	if !mapper.viaText(udt) {
		return ""
	}
	if t := strings.TrimSuffix(c.Type, "[]"); t != "" {
		return t
	}
	return pgident.QuoteAlways(udt)
}

// validate reports Go identifiers and file names that collide after
// naming and augmentation.
func (m *model) validate(files []string) error {
	names := map[string]string{} // Go identifier → origin
	claim := func(name, origin string) error {
		if prev, ok := names[name]; ok {
			return fmt.Errorf("generated name %q of %s conflicts with %s", name, origin, prev)
		}
		names[name] = origin
		return nil
	}

	for _, t := range m.Tables {
		origin := "table " + t.Table.Name
		for _, n := range []string{t.GoName, t.recordName(), t.daoName(), "New" + t.daoName(), t.tableConst()} {
			if err := claim(n, origin); err != nil {
				return err
			}
		}
		fields := map[string]string{}
		for _, f := range t.Fields {
			if prev, ok := fields[f.GoName]; ok {
				return fmt.Errorf("table %s: columns %s and %s both map to field %s", t.Table.Name, prev, f.Column.Name, f.GoName)
			}
			fields[f.GoName] = f.Column.Name
			if err := claim(t.columnConst(f), origin); err != nil {
				return err
			}
		}
	}
	for _, e := range m.Enums {
		origin := "enum " + e.Enum.Name
		if err := claim(e.GoName, origin); err != nil {
			return err
		}
		if err := claim(e.GoName+"Values", origin); err != nil {
			return err
		}
		for _, v := range e.Values {
			if err := claim(v.GoName, origin); err != nil {
				return err
			}
		}
	}
	for _, n := range []string{"Schema", "Tables", "DBTX"} {
		if origin, ok := names[n]; ok {
			return fmt.Errorf("generated name %q of %s is reserved", n, origin)
		}
	}

	seen := map[string]bool{}
	for _, f := range files {
		if seen[f] {
			return fmt.Errorf("generated file name %q is used twice", f)
		}
		seen[f] = true
	}
	return nil
}
