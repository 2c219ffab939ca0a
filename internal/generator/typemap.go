package generator

import (
	"strings"

	"github.com/dave/jennifer/jen"

	"github.com/andrewkroh/pgsourcegen/internal/introspect"
)

const (
	pkgJSON   = "encoding/json"
	pkgNet    = "net"
	pkgNetip  = "net/netip"
	pkgTime   = "time"
	pkgUUID   = "github.com/google/uuid"
	pkgPgtype = "github.com/jackc/pgx/v5/pgtype"
	pkgPgx    = "github.com/jackc/pgx/v5"
	pkgPgconn = "github.com/jackc/pgx/v5/pgconn"
)

// GoTypeRef represents a reference to a Go type, with modifiers.
type GoTypeRef struct {
	Name     string     // Builtin or local type name, or the exported name within Package.
	Package  string     // Import path of a qualified type.
	Pointer  bool       // *T
	Slice    bool       // []Element
	Element  *GoTypeRef // For slices.
	Nillable bool       // The type represents NULL by itself (e.g. pgtype.Numeric).
}

// String returns a human-readable representation.
func (r GoTypeRef) String() string {
	var s string
	switch {
	case r.Slice:
		elem := "any"
		if r.Element != nil {
			elem = r.Element.String()
		}
		s = "[]" + elem
	case r.Package != "":
		s = r.Package[strings.LastIndex(r.Package, "/")+1:] + "." + r.Name
	case r.Name != "":
		s = r.Name
	default:
		s = "any"
	}
	if r.Pointer {
		s = "*" + s
	}
	return s
}

// Code returns the jennifer representation of the type.
func (r GoTypeRef) Code() *jen.Statement {
	var s *jen.Statement
	switch {
	case r.Slice:
		elem := GoTypeRef{Name: "any"}
		if r.Element != nil {
			elem = *r.Element
		}
		s = jen.Index().Add(elem.Code())
	case r.Package != "":
		s = jen.Qual(r.Package, r.Name)
	case r.Name != "":
		s = jen.Id(r.Name)
	default:
		s = jen.Id("any")
	}
	if r.Pointer {
		return jen.Op("*").Add(s)
	}
	return s
}

// Base returns the type without the pointer modifier.
func (r GoTypeRef) Base() GoTypeRef {
	r.Pointer = false
	return r
}

// canBeNil reports whether a NULL can be represented without a pointer.
func (r GoTypeRef) canBeNil() bool {
	return r.Pointer || r.Slice || r.Nillable || r.Name == "any"
}

func builtin(name string) GoTypeRef { return GoTypeRef{Name: name} }

func qual(pkg, name string, nillable bool) GoTypeRef {
	return GoTypeRef{Package: pkg, Name: name, Nillable: nillable}
}

func sliceOf(elem GoTypeRef) GoTypeRef {
	return GoTypeRef{Slice: true, Element: &elem}
}

// scalarTypes maps PostgreSQL type names (pg_type.typname) to the Go
// types pgx scans them into. Types not listed map to string. pgx reads
// many of them (ranges, geometric types, tsvector, bit, "char") in binary, so
// generated SQL casts such columns to and from text.
var scalarTypes = map[string]GoTypeRef{
	"bool":        builtin("bool"),
	"int2":        builtin("int16"),
	"int4":        builtin("int32"),
	"int8":        builtin("int64"),
	"oid":         builtin("uint32"),
	"float4":      builtin("float32"),
	"float8":      builtin("float64"),
	"numeric":     qual(pkgPgtype, "Numeric", true),
	"text":        builtin("string"),
	"varchar":     builtin("string"),
	"bpchar":      builtin("string"),
	"name":        builtin("string"),
	"citext":      builtin("string"),
	"uuid":        qual(pkgUUID, "UUID", false),
	"bytea":       sliceOf(builtin("byte")),
	"date":        qual(pkgTime, "Time", false),
	"timestamp":   qual(pkgTime, "Time", false),
	"timestamptz": qual(pkgTime, "Time", false),
	"time":        qual(pkgPgtype, "Time", true),
	"interval":    qual(pkgPgtype, "Interval", true),
	"json":        qual(pkgJSON, "RawMessage", true),
	"jsonb":       qual(pkgJSON, "RawMessage", true),
	"inet":        qual(pkgNetip, "Prefix", false),
	"cidr":        qual(pkgNetip, "Prefix", false),
	"macaddr":     qual(pkgNet, "HardwareAddr", true),
}

// TypeMapper maps introspected columns to Go types.
type TypeMapper struct {
	enums map[string]string // SQL enum name → Go type name
}

// NewTypeMapper returns a TypeMapper that maps the given enum types to
// the generated Go types.
func NewTypeMapper(enums map[string]string) *TypeMapper {
	return &TypeMapper{enums: enums}
}

// Map returns the Go type of a column. Nullable columns map to pointers
// unless the Go type can represent NULL itself.
func (m *TypeMapper) Map(c *introspect.Column) GoTypeRef {
	var ref GoTypeRef
	if c.ElementUDT != "" {
		ref = sliceOf(m.scalar(c.ElementUDT))
	} else {
		ref = m.scalar(c.UDTName)
	}
	if !c.NotNull && !ref.canBeNil() {
		ref.Pointer = true
	}
	return ref
}

func (m *TypeMapper) scalar(udt string) GoTypeRef {
	if goName, ok := m.enums[udt]; ok {
		return GoTypeRef{Name: goName}
	}
	if ref, ok := scalarTypes[udt]; ok {
		return ref
	}
	return builtin("string")
}

// viaText reports whether values of udt map to string without pgx
// understanding them as such, so they must travel as text.
func (m *TypeMapper) viaText(udt string) bool {
	if _, ok := m.enums[udt]; ok {
		return false
	}
	_, ok := scalarTypes[udt]
	return !ok
}

// lookupable reports whether values of the column can be looked up with
// "= ANY($1)".
func lookupable(c *introspect.Column) bool {
	if c.ElementUDT != "" {
		return false
	}
	switch c.UDTName {
	case "json", "jsonb", "xml", "point", "line", "lseg", "box", "path", "polygon", "circle":
		return false
	}
	return true
}

// parseTypeRef parses a type string like "*bool", "[]string",
// "github.com/shopspring/decimal.Decimal" or a local type name into a
// GoTypeRef.
func parseTypeRef(s string) GoTypeRef {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "*") {
		inner := parseTypeRef(s[1:])
		inner.Pointer = true
		return inner
	}

	if strings.HasPrefix(s, "[]") {
		return sliceOf(parseTypeRef(s[2:]))
	}

	// Qualified type: the import path ends at the last dot after the last
	// slash.
	if dot := strings.LastIndex(s, "."); dot > 0 && dot > strings.LastIndex(s, "/") {
		pkg, name := s[:dot], s[dot+1:]
		switch pkg {
		case "json":
			pkg = pkgJSON
		case "time":
			pkg = pkgTime
		case "pgtype":
			pkg = pkgPgtype
		case "netip":
			pkg = pkgNetip
		case "uuid":
			pkg = pkgUUID
		}
		return GoTypeRef{Package: pkg, Name: name, Nillable: true}
	}

	if s == "" {
		return builtin("any")
	}
	return builtin(s)
}
