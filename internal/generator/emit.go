package generator

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dave/jennifer/jen"

	"github.com/andrewkroh/pgsourcegen/internal/introspect"
)

const headerComment = "Code generated by pgsourcegen. DO NOT EDIT."

// Emitter renders the model into Go source files of one package.
type Emitter struct {
	pkgName string
	model   *model
	gen     Artifacts
}

func newFile(pkgName string) *jen.File {
	f := jen.NewFile(pkgName)
	f.HeaderComment(headerComment)
	return f
}

func render(name string, f *jen.File) (File, error) {
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return File{}, fmt.Errorf("rendering %s: %w", name, err)
	}
	return File{Name: name, Content: buf.Bytes()}, nil
}

// doc appends text as comment lines, one per line of input.
func doc(codes []jen.Code, text string) []jen.Code {
	text = strings.TrimSpace(text)
	if text == "" {
		return codes
	}
	for _, line := range strings.Split(text, "\n") {
		codes = append(codes, jen.Comment(strings.TrimRight(line, " \t\r")))
	}
	return codes
}

func addDoc(f *jen.File, lines ...string) {
	for _, c := range doc(nil, strings.Join(lines, "\n")) {
		f.Add(c)
	}
}

// sqlLit renders SQL as a raw string literal when possible.
func sqlLit(s string) jen.Code {
	if strings.ContainsAny(s, "`\r") {
		return jen.Lit(s)
	}
	return jen.Id("`" + s + "`")
}

// multiValues renders a composite literal body with one item per line.
func multiValues(items ...jen.Code) *jen.Statement {
	return jen.Custom(jen.Options{Open: "{", Close: "}", Separator: ",", Multi: true}, items...)
}

// emitTables renders tables.go: schema, table and column name constants,
// the dependency ordered table list and the enum types.
func (e *Emitter) emitTables() (File, error) {
	f := newFile(e.pkgName)
	m := e.model

	f.Comment("Schema is the database schema the code was generated from.")
	f.Const().Id("Schema").Op("=").Lit(m.Schema)
	f.Line()

	if len(m.Tables) > 0 {
		f.Comment("Table names.")
		defs := make([]jen.Code, 0, len(m.Tables))
		for _, t := range m.Tables {
			defs = append(defs, jen.Id(t.tableConst()).Op("=").Lit(t.Table.Name))
		}
		f.Const().Defs(defs...)
		f.Line()
	}

	byName := make(map[string]*tableModel, len(m.Tables))
	tables := make([]*introspect.Table, 0, len(m.Tables))
	for _, t := range m.Tables {
		byName[t.Table.Name] = t
		tables = append(tables, t.Table)
	}
	var ordered []jen.Code
	for _, name := range SortTables(tables) {
		ordered = append(ordered, jen.Id(byName[name].tableConst()))
	}
	f.Comment("Tables lists the tables in dependency order. Referenced tables")
	f.Comment("come before the tables whose foreign keys point to them.")
	if len(ordered) == 0 {
		f.Var().Id("Tables").Index().String()
	} else {
		f.Var().Id("Tables").Op("=").Index().String().Add(multiValues(ordered...))
	}

	for _, t := range m.Tables {
		if len(t.Fields) == 0 {
			continue
		}
		f.Line()
		f.Commentf("Column names of %s.", t.Table.Name)
		defs := make([]jen.Code, 0, len(t.Fields))
		for _, fm := range t.Fields {
			defs = append(defs, jen.Id(t.columnConst(fm)).Op("=").Lit(fm.Column.Name))
		}
		f.Const().Defs(defs...)
	}

	for _, en := range m.Enums {
		f.Line()
		e.emitEnum(f, en)
	}
	return render("tables.go", f)
}

func (e *Emitter) emitEnum(f *jen.File, en *enumModel) {
	addDoc(f, en.Doc)
	f.Type().Id(en.GoName).String()

	if len(en.Values) > 0 {
		f.Line()
		defs := make([]jen.Code, 0, len(en.Values))
		for _, v := range en.Values {
			defs = append(defs, jen.Id(v.GoName).Id(en.GoName).Op("=").Lit(v.Label))
		}
		f.Const().Defs(defs...)
	}

	f.Line()
	f.Commentf("%sValues lists the labels of %s in sort order.", en.GoName, en.GoName)
	ids := make([]jen.Code, 0, len(en.Values))
	for _, v := range en.Values {
		ids = append(ids, jen.Id(v.GoName))
	}
	if len(ids) == 0 {
		f.Var().Id(en.GoName + "Values").Index().Id(en.GoName)
	} else {
		f.Var().Id(en.GoName+"Values").Op("=").Index().Id(en.GoName).Add(multiValues(ids...))
	}

	f.Line()
	f.Commentf("Valid reports whether v is a label of %s.", en.GoName)
	body := []jen.Code{jen.Return(jen.False())}
	if len(ids) > 0 {
		body = []jen.Code{
			jen.Switch(jen.Id("v")).Block(
				jen.Case(ids...).Block(jen.Return(jen.True())),
			),
			jen.Return(jen.False()),
		}
	}
	f.Func().Params(jen.Id("v").Id(en.GoName)).Id("Valid").Params().Bool().Block(body...)
}

// emitDBTX renders dbtx.go, the database interface of the DAOs.
func (e *Emitter) emitDBTX() (File, error) {
	f := newFile(e.pkgName)
	f.Comment("DBTX is the subset of pgx.Conn, pgxpool.Pool and pgx.Tx used by the DAOs.")
	f.Type().Id("DBTX").Interface(
		jen.Id("Exec").Params(
			jen.Id("ctx").Qual("context", "Context"),
			jen.Id("sql").String(),
			jen.Id("args").Op("...").Id("any"),
		).Params(jen.Qual(pkgPgconn, "CommandTag"), jen.Error()),
		jen.Id("Query").Params(
			jen.Id("ctx").Qual("context", "Context"),
			jen.Id("sql").String(),
			jen.Id("args").Op("...").Id("any"),
		).Params(jen.Qual(pkgPgx, "Rows"), jen.Error()),
		jen.Id("QueryRow").Params(
			jen.Id("ctx").Qual("context", "Context"),
			jen.Id("sql").String(),
			jen.Id("args").Op("...").Id("any"),
		).Qual(pkgPgx, "Row"),
	)
	return render("dbtx.go", f)
}
