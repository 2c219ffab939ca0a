package generator

import (
	"fmt"
	"strings"

	"github.com/dave/jennifer/jen"
)

// emitDAO renders <table>_dao.go holding the data access object of a
// table. Queries are written against the unqualified table name.
func (e *Emitter) emitDAO(t *tableModel, name string) (File, error) {
	f := newFile(e.pkgName)
	dao := t.daoName()
	pojo := t.GoName
	ctxParam := jen.Id("ctx").Qual("context", "Context")
	receiver := func() *jen.Statement { return jen.Id("d").Op("*").Id(dao) }
	selectFrom := "SELECT " + t.selectList() + " FROM " + t.quotedTable()

	f.Commentf("%s reads and writes rows of the %s %s.", dao, t.Table.Name, kindNoun(t))
	f.Type().Id(dao).Struct(jen.Id("db").Id("DBTX"))
	f.Line()

	f.Commentf("New%s returns a %s that runs its queries on db.", dao, dao)
	f.Func().Id("New"+dao).Params(jen.Id("db").Id("DBTX")).Op("*").Id(dao).Block(
		jen.Return(jen.Op("&").Id(dao).Values(jen.Id("db").Op(":").Id("db"))),
	)
	f.Line()

	f.Comment("Count returns the number of rows.")
	f.Func().Params(receiver()).Id("Count").Params(ctxParam.Clone()).Params(jen.Int64(), jen.Error()).Block(
		jen.Var().Id("n").Int64(),
		jen.Err().Op(":=").Id("d").Dot("db").Dot("QueryRow").Call(
			jen.Id("ctx"), sqlLit("SELECT count(*) FROM "+t.quotedTable()),
		).Dot("Scan").Call(jen.Op("&").Id("n")),
		jen.Return(jen.Id("n"), jen.Err()),
	)
	f.Line()

	f.Comment("FindAll returns every row.")
	f.Func().Params(receiver()).Id("FindAll").Params(ctxParam.Clone()).Params(jen.Index().Op("*").Id(pojo), jen.Error()).Block(
		jen.Return(jen.Id("d").Dot("query").Call(jen.Id("ctx"), sqlLit(selectFrom))),
	)

	// FetchBy for every column that can be compared with "= ANY".
	for _, fm := range t.Fields {
		if !lookupable(fm.Column) {
			continue
		}
		f.Line()
		f.Commentf("FetchBy%s returns the rows whose %s is one of values.", fm.GoName, fm.Column.Name)
		f.Func().Params(receiver()).Id("FetchBy"+fm.GoName).Params(
			ctxParam.Clone(),
			jen.Id("values").Op("...").Add(fm.Type.Base().Code()),
		).Params(jen.Index().Op("*").Id(pojo), jen.Error()).Block(
			jen.Return(jen.Id("d").Dot("query").Call(
				jen.Id("ctx"),
				sqlLit(selectFrom+" WHERE "+fm.quoted()+" = ANY("+fm.arrayParam(1)+")"),
				jen.Id("values"),
			)),
		)
	}

	// FetchOneBy for columns with a single column unique constraint.
	for _, fm := range t.Fields {
		if t.Table.IsPrimaryKey(fm.Column.Name) || !t.Table.IsUnique(fm.Column.Name) || !lookupable(fm.Column) {
			continue
		}
		param := paramName(fm.Column.Name)
		f.Line()
		f.Commentf("FetchOneBy%s returns the row whose %s equals %s. It returns", fm.GoName, fm.Column.Name, param)
		f.Comment("pgx.ErrNoRows if there is none.")
		f.Func().Params(receiver()).Id("FetchOneBy"+fm.GoName).Params(
			ctxParam.Clone(),
			jen.Id(param).Add(fm.Type.Base().Code()),
		).Params(jen.Op("*").Id(pojo), jen.Error()).Block(
			e.queryOne(t, selectFrom+" WHERE "+fm.quoted()+" = "+fm.param(1), jen.Id(param))...,
		)
	}

	pk := t.primaryKey()
	var pkParams, pkArgs, pkFromP []jen.Code
	var pkWhere []string
	for i, fm := range pk {
		param := paramName(fm.Column.Name)
		pkParams = append(pkParams, jen.Id(param).Add(fm.Type.Base().Code()))
		pkArgs = append(pkArgs, jen.Id(param))
		pkFromP = append(pkFromP, jen.Id("p").Dot(fm.GoName))
		pkWhere = append(pkWhere, fm.quoted()+" = "+fm.param(i+1))
	}

	if len(pk) > 0 {
		where := " WHERE " + strings.Join(pkWhere, " AND ")

		f.Line()
		f.Comment("FindByID returns the row with the given primary key. It returns")
		f.Comment("pgx.ErrNoRows if there is none.")
		f.Func().Params(receiver()).Id("FindByID").Params(
			append([]jen.Code{ctxParam.Clone()}, pkParams...)...,
		).Params(jen.Op("*").Id(pojo), jen.Error()).Block(
			e.queryOne(t, selectFrom+where, pkArgs...)...,
		)

		f.Line()
		f.Comment("ExistsByID reports whether a row with the given primary key exists.")
		f.Func().Params(receiver()).Id("ExistsByID").Params(
			append([]jen.Code{ctxParam.Clone()}, pkParams...)...,
		).Params(jen.Bool(), jen.Error()).Block(
			jen.Var().Id("ok").Bool(),
			jen.Err().Op(":=").Id("d").Dot("db").Dot("QueryRow").Call(
				append([]jen.Code{jen.Id("ctx"), sqlLit("SELECT EXISTS (SELECT 1 FROM " + t.quotedTable() + where + ")")}, pkArgs...)...,
			).Dot("Scan").Call(jen.Op("&").Id("ok")),
			jen.Return(jen.Id("ok"), jen.Err()),
		)
	}

	if t.isBaseTable() {
		e.emitInsert(f, t, receiver())
	}

	if t.isBaseTable() && len(pk) > 0 {
		if upd := t.updatable(); len(upd) > 0 {
			var sets []string
			var args []jen.Code
			for i, fm := range upd {
				sets = append(sets, fm.quoted()+" = "+fm.param(i+1))
				args = append(args, jen.Id("p").Dot(fm.GoName))
			}
			var where []string
			for i, fm := range pk {
				where = append(where, fm.quoted()+" = "+fm.param(len(upd)+i+1))
			}
			stmt := "UPDATE " + t.quotedTable() + " SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")

			f.Line()
			f.Comment("Update writes p to the row with the same primary key. It returns")
			f.Comment("pgx.ErrNoRows if no row was updated.")
			f.Func().Params(receiver()).Id("Update").Params(
				ctxParam.Clone(), jen.Id("p").Op("*").Id(pojo),
			).Error().Block(
				execAffected(stmt, append(args, pkFromP...))...,
			)
		}

		f.Line()
		f.Comment("Delete removes the row with the given primary key. It returns")
		f.Comment("pgx.ErrNoRows if no row was deleted.")
		f.Func().Params(receiver()).Id("Delete").Params(
			append([]jen.Code{ctxParam.Clone()}, pkParams...)...,
		).Error().Block(
			execAffected("DELETE FROM "+t.quotedTable()+" WHERE "+strings.Join(pkWhere, " AND "), pkArgs)...,
		)
	}

	f.Line()
	f.Func().Params(receiver()).Id("query").Params(
		ctxParam.Clone(), jen.Id("sql").String(), jen.Id("args").Op("...").Id("any"),
	).Params(jen.Index().Op("*").Id(pojo), jen.Error()).Block(
		jen.List(jen.Id("rows"), jen.Err()).Op(":=").Id("d").Dot("db").Dot("Query").Call(
			jen.Id("ctx"), jen.Id("sql"), jen.Id("args").Op("..."),
		),
		jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err())),
		jen.Return(jen.Qual(pkgPgx, "CollectRows").Call(
			jen.Id("rows"),
			jen.Func().Params(jen.Id("row").Qual(pkgPgx, "CollectableRow")).Params(jen.Op("*").Id(pojo), jen.Error()).Block(
				jen.Var().Id("r").Id(t.recordName()),
				jen.If(jen.Err().Op(":=").Id("r").Dot("Scan").Call(jen.Id("row")), jen.Err().Op("!=").Nil()).Block(
					jen.Return(jen.Nil(), jen.Err()),
				),
				jen.Return(jen.Id("r").Dot("To"+pojo).Call(), jen.Nil()),
			),
		)),
	)

	return render(name, f)
}

// queryOne returns the body of a method that scans a single row into a
// value object.
func (e *Emitter) queryOne(t *tableModel, sql string, args ...jen.Code) []jen.Code {
	return []jen.Code{
		jen.Var().Id("r").Id(t.recordName()),
		jen.If(
			jen.Err().Op(":=").Id("r").Dot("Scan").Call(
				jen.Id("d").Dot("db").Dot("QueryRow").Call(append([]jen.Code{jen.Id("ctx"), sqlLit(sql)}, args...)...),
			),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Nil(), jen.Err())),
		jen.Return(jen.Id("r").Dot("To"+t.GoName).Call(), jen.Nil()),
	}
}

func (e *Emitter) emitInsert(f *jen.File, t *tableModel, receiver *jen.Statement) {
	cols := t.insertable()
	stmt := "INSERT INTO " + t.quotedTable()
	var args []jen.Code
	if len(cols) == 0 {
		stmt += " DEFAULT VALUES"
	} else {
		names := make([]string, 0, len(cols))
		params := make([]string, 0, len(cols))
		for i, fm := range cols {
			names = append(names, fm.quoted())
			params = append(params, fm.param(i+1))
			args = append(args, jen.Id("p").Dot(fm.GoName))
		}
		stmt += fmt.Sprintf(" (%s) VALUES (%s)", strings.Join(names, ", "), strings.Join(params, ", "))
	}
	stmt += " RETURNING " + t.selectList()

	f.Line()
	f.Comment("Insert adds p as a new row and copies the stored row back into p,")
	f.Comment("including values assigned by the database.")
	f.Func().Params(receiver).Id("Insert").Params(
		jen.Id("ctx").Qual("context", "Context"), jen.Id("p").Op("*").Id(t.GoName),
	).Error().Block(
		jen.Var().Id("r").Id(t.recordName()),
		jen.If(
			jen.Err().Op(":=").Id("r").Dot("Scan").Call(
				jen.Id("d").Dot("db").Dot("QueryRow").Call(append([]jen.Code{jen.Id("ctx"), sqlLit(stmt)}, args...)...),
			),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Err())),
		jen.Op("*").Id("p").Op("=").Op("*").Id("r").Dot("To"+t.GoName).Call(),
		jen.Return(jen.Nil()),
	)
}

// execAffected returns the body of a method that runs stmt and reports
// pgx.ErrNoRows when no row was affected.
func execAffected(stmt string, args []jen.Code) []jen.Code {
	return []jen.Code{
		jen.List(jen.Id("tag"), jen.Err()).Op(":=").Id("d").Dot("db").Dot("Exec").Call(
			append([]jen.Code{jen.Id("ctx"), sqlLit(stmt)}, args...)...,
		),
		jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Err())),
		jen.If(jen.Id("tag").Dot("RowsAffected").Call().Op("==").Lit(0)).Block(
			jen.Return(jen.Qual(pkgPgx, "ErrNoRows")),
		),
		jen.Return(jen.Nil()),
	}
}
