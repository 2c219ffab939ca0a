package generator

import (
	"fmt"

	"github.com/dave/jennifer/jen"

	"github.com/andrewkroh/pgsourcegen/internal/introspect"
)

// emitPOJO renders <table>.go holding the value object of a table.
func (e *Emitter) emitPOJO(t *tableModel, name string) (File, error) {
	f := newFile(e.pkgName)

	addDoc(f, fmt.Sprintf("%s is a row of the %s %s.", t.GoName, t.Table.Name, kindNoun(t)))
	if t.Doc != "" {
		f.Comment("")
		addDoc(f, t.Doc)
	}

	fields := make([]jen.Code, 0, len(t.Fields))
	for _, fm := range t.Fields {
		fields = doc(fields, fm.Doc)
		fields = append(fields, jen.Id(fm.GoName).Add(fm.Type.Code()).Tag(map[string]string{"json": fm.JSONName}))
	}
	f.Type().Id(t.GoName).Struct(fields...)
	return render(name, f)
}

// emitRecord renders <table>_record.go holding the row record of a table.
func (e *Emitter) emitRecord(t *tableModel, name string) (File, error) {
	f := newFile(e.pkgName)
	rec := t.recordName()

	f.Commentf("%s holds the columns of a %s row in ordinal order.", rec, t.Table.Name)
	fields := make([]jen.Code, 0, len(t.Fields))
	for _, fm := range t.Fields {
		fields = append(fields, jen.Id(fm.GoName).Add(fm.Type.Code()))
	}
	f.Type().Id(rec).Struct(fields...)
	f.Line()

	receiver := jen.Id("r").Op("*").Id(rec)

	cols := make([]jen.Code, 0, len(t.Fields))
	vals := make([]jen.Code, 0, len(t.Fields))
	dests := make([]jen.Code, 0, len(t.Fields))
	for _, fm := range t.Fields {
		cols = append(cols, jen.Id(t.columnConst(fm)))
		vals = append(vals, jen.Id("r").Dot(fm.GoName))
		dests = append(dests, jen.Op("&").Id("r").Dot(fm.GoName))
	}

	f.Comment("Columns returns the column names in ordinal order.")
	f.Func().Params(receiver.Clone()).Id("Columns").Params().Index().String().Block(
		jen.Return(jen.Index().String().Add(multiValues(cols...))),
	)
	f.Line()

	f.Comment("Values returns the field values in column order.")
	f.Func().Params(receiver.Clone()).Id("Values").Params().Index().Id("any").Block(
		jen.Return(jen.Index().Id("any").Add(multiValues(vals...))),
	)
	f.Line()

	f.Comment("Scan reads the columns of row into r. Enum columns must be selected")
	f.Comment("as text.")
	f.Func().Params(receiver.Clone()).Id("Scan").Params(jen.Id("row").Qual(pkgPgx, "Row")).Error().Block(
		jen.Return(jen.Id("row").Dot("Scan").Call(dests...)),
	)

	if !e.gen.POJOs {
		return render(name, f)
	}

	to := make([]jen.Code, 0, len(t.Fields))
	from := make([]jen.Code, 0, len(t.Fields))
	for _, fm := range t.Fields {
		to = append(to, jen.Id(fm.GoName).Op(":").Id("r").Dot(fm.GoName))
		from = append(from, jen.Id("r").Dot(fm.GoName).Op("=").Id("p").Dot(fm.GoName))
	}

	f.Line()
	f.Commentf("To%s returns the record as a value object.", t.GoName)
	f.Func().Params(receiver.Clone()).Id("To"+t.GoName).Params().Op("*").Id(t.GoName).Block(
		jen.Return(jen.Op("&").Id(t.GoName).Add(multiValues(to...))),
	)
	f.Line()

	f.Commentf("From%s copies the fields of p into the record.", t.GoName)
	f.Func().Params(receiver.Clone()).Id("From"+t.GoName).Params(jen.Id("p").Op("*").Id(t.GoName)).Block(from...)

	return render(name, f)
}

func kindNoun(t *tableModel) string {
	switch t.Table.Kind {
	case introspect.View:
		return "view"
	case introspect.MaterializedView:
		return "materialized view"
	default:
		return "table"
	}
}
