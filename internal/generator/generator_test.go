package generator

import (
	"bytes"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/andrewkroh/pgsourcegen/internal/introspect"
)

func testSchema() *introspect.Schema {
	users := &introspect.Table{
		Schema:  "public",
		Name:    "users",
		Kind:    introspect.BaseTable,
		Comment: "Registered accounts.",
		Columns: []*introspect.Column{
			{Name: "id", Ordinal: 1, UDTName: "int8", NotNull: true, Identity: true},
			{Name: "email", Ordinal: 2, UDTName: "text", NotNull: true, Comment: "Login address."},
			{Name: "status", Ordinal: 3, UDTName: "user_status", IsEnum: true},
			{Name: "tags", Ordinal: 4, UDTName: "_user_status", ElementUDT: "user_status", IsEnum: true},
			{Name: "created_at", Ordinal: 5, UDTName: "timestamptz", NotNull: true, Default: "now()"},
			{Name: "profile", Ordinal: 6, UDTName: "jsonb"},
		},
		PrimaryKey: []string{"id"},
		Uniques:    []introspect.Unique{{Name: "users_email_key", Columns: []string{"email"}}},
	}
	orders := &introspect.Table{
		Schema: "public",
		Name:   "orders",
		Kind:   introspect.BaseTable,
		Columns: []*introspect.Column{
			{Name: "id", Ordinal: 1, UDTName: "uuid", NotNull: true},
			{Name: "user_id", Ordinal: 2, UDTName: "int8", NotNull: true},
			{Name: "total", Ordinal: 3, UDTName: "numeric"},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []*introspect.ForeignKey{{Name: "orders_user_id_fkey", Columns: []string{"user_id"}, RefSchema: "public", RefTable: "users", RefColumns: []string{"id"}}},
	}
	orderItems := &introspect.Table{
		Schema: "public",
		Name:   "order_items",
		Kind:   introspect.BaseTable,
		Columns: []*introspect.Column{
			{Name: "order_id", Ordinal: 1, UDTName: "uuid", NotNull: true},
			{Name: "line", Ordinal: 2, UDTName: "int4", NotNull: true},
			{Name: "sku", Ordinal: 3, UDTName: "varchar", NotNull: true},
		},
		PrimaryKey:  []string{"order_id", "line"},
		ForeignKeys: []*introspect.ForeignKey{{Name: "order_items_order_id_fkey", Columns: []string{"order_id"}, RefSchema: "public", RefTable: "orders", RefColumns: []string{"id"}}},
	}
	events := &introspect.Table{
		Schema: "public",
		Name:   "events",
		Kind:   introspect.BaseTable,
		Columns: []*introspect.Column{
			{Name: "seq", Ordinal: 1, UDTName: "int4", NotNull: true, Default: "nextval('events_seq_seq'::regclass)"},
			{Name: "payload", Ordinal: 2, UDTName: "text"},
		},
	}
	activeUsers := &introspect.Table{
		Schema: "public",
		Name:   "active_users",
		Kind:   introspect.View,
		Columns: []*introspect.Column{
			{Name: "id", Ordinal: 1, UDTName: "int8"},
			{Name: "email", Ordinal: 2, UDTName: "text"},
		},
	}
	return &introspect.Schema{
		Name:   "public",
		Tables: []*introspect.Table{activeUsers, events, orderItems, orders, users},
		Enums:  []*introspect.Enum{{Name: "user_status", Labels: []string{"active", "on hold"}}},
	}
}

func allArtifacts() Artifacts { return Artifacts{POJOs: true, Records: true, DAOs: true} }

func renderMap(t *testing.T, cfg Config) map[string]string {
	t.Helper()
	files, err := Render(testSchema(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]string, len(files))
	for _, f := range files {
		out[f.Name] = string(f.Content)
	}
	return out
}

// parseFile parses generated source and returns the names of its
// top level declarations.
func parseFile(t *testing.T, name, src string) (*ast.File, map[string]bool) {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), name, src, parser.ParseComments)
	if err != nil {
		t.Fatalf("%s does not parse: %v\n%s", name, err, src)
	}
	decls := map[string]bool{}
	for _, d := range f.Decls {
		switch d := d.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				if star, ok := d.Recv.List[0].Type.(*ast.StarExpr); ok {
					name = star.X.(*ast.Ident).Name + "." + name
				} else {
					name = d.Recv.List[0].Type.(*ast.Ident).Name + "." + name
				}
			}
			decls[name] = true
		case *ast.GenDecl:
			for _, s := range d.Specs {
				switch s := s.(type) {
				case *ast.TypeSpec:
					decls[s.Name.Name] = true
				case *ast.ValueSpec:
					for _, n := range s.Names {
						decls[n.Name] = true
					}
				}
			}
		}
	}
	return f, decls
}

func TestRenderFiles(t *testing.T) {
	files := renderMap(t, Config{PackageName: "com.example.db", Generate: allArtifacts()})

	var names []string
	for name := range files {
		names = append(names, name)
	}
	want := []string{
		"active_users.go", "active_users_dao.go", "active_users_record.go",
		"dbtx.go",
		"events.go", "events_dao.go", "events_record.go",
		"order_items.go", "order_items_dao.go", "order_items_record.go",
		"orders.go", "orders_dao.go", "orders_record.go",
		"tables.go",
		"users.go", "users_dao.go", "users_record.go",
	}
	sortStrings(names)
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("files = %v, want %v", names, want)
	}

	for name, src := range files {
		if !strings.HasPrefix(src, "// Code generated by pgsourcegen. DO NOT EDIT.\n") {
			t.Errorf("%s: missing generated header", name)
		}
		f, _ := parseFile(t, name, src)
		if f.Name.Name != "db" {
			t.Errorf("%s: package = %s, want db", name, f.Name.Name)
		}
	}
}

func TestRenderTables(t *testing.T) {
	files := renderMap(t, Config{PackageName: "db", Generate: allArtifacts()})
	src := files["tables.go"]
	_, decls := parseFile(t, "tables.go", src)

	for _, name := range []string{
		"Schema", "Tables", "TableUsers", "TableOrderItems", "TableActiveUsers",
		"UsersColumnID", "UsersColumnCreatedAt", "OrderItemsColumnSKU",
		"UserStatus", "UserStatusActive", "UserStatusOnHold", "UserStatusValues", "UserStatus.Valid",
	} {
		if !decls[name] {
			t.Errorf("tables.go: missing %s", name)
		}
	}

	// Referenced tables come first.
	order := []string{"TableUsers,", "TableOrders,", "TableOrderItems,"}
	last := -1
	for _, s := range order {
		i := strings.Index(src, "\t"+s)
		if i < 0 {
			t.Fatalf("Tables does not list %s\n%s", s, src)
		}
		if i < last {
			t.Errorf("%s listed out of dependency order", s)
		}
		last = i
	}
	if !strings.Contains(src, `UserStatusOnHold UserStatus = "on hold"`) {
		t.Errorf("enum label constant not rendered\n%s", src)
	}
}

func TestRenderDAO(t *testing.T) {
	files := renderMap(t, Config{PackageName: "db", Generate: allArtifacts()})

	tests := []struct {
		file    string
		present []string
		absent  []string
	}{
		{
			file: "users_dao.go",
			present: []string{
				"NewUsersDAO", "UsersDAO.Count", "UsersDAO.FindAll", "UsersDAO.FetchByID",
				"UsersDAO.FetchByEmail", "UsersDAO.FetchOneByEmail", "UsersDAO.FetchByStatus",
				"UsersDAO.FindByID", "UsersDAO.ExistsByID", "UsersDAO.Insert", "UsersDAO.Update",
				"UsersDAO.Delete", "UsersDAO.query",
			},
			absent: []string{"UsersDAO.FetchByTags", "UsersDAO.FetchByProfile", "UsersDAO.FetchOneByID"},
		},
		{
			file:    "order_items_dao.go",
			present: []string{"OrderItemsDAO.FindByID", "OrderItemsDAO.Update", "OrderItemsDAO.Delete"},
		},
		{
			file:    "events_dao.go",
			present: []string{"EventsDAO.Insert", "EventsDAO.FindAll"},
			absent:  []string{"EventsDAO.FindByID", "EventsDAO.Update", "EventsDAO.Delete"},
		},
		{
			file:    "active_users_dao.go",
			present: []string{"ActiveUsersDAO.FindAll", "ActiveUsersDAO.FetchByEmail"},
			absent:  []string{"ActiveUsersDAO.Insert", "ActiveUsersDAO.FindByID", "ActiveUsersDAO.Delete"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			_, decls := parseFile(t, tt.file, files[tt.file])
			for _, name := range tt.present {
				if !decls[name] {
					t.Errorf("missing %s", name)
				}
			}
			for _, name := range tt.absent {
				if decls[name] {
					t.Errorf("unexpected %s", name)
				}
			}
		})
	}

	users := files["users_dao.go"]
	for _, sql := range []string{
		`SELECT "id", "email", "status"::text, "tags"::text[], "created_at", "profile" FROM "users"`,
		`WHERE "status" = ANY($1::text[]::"user_status"[])`,
		`INSERT INTO "users" ("email", "status", "tags", "created_at", "profile") VALUES ($1, $2::text::"user_status", $3::text[]::"user_status"[], $4, $5)`,
		`UPDATE "users" SET "email" = $1, "status" = $2::text::"user_status", "tags" = $3::text[]::"user_status"[], "created_at" = $4, "profile" = $5 WHERE "id" = $6`,
		`DELETE FROM "users" WHERE "id" = $1`,
		"pgx.ErrNoRows",
	} {
		if !strings.Contains(users, sql) {
			t.Errorf("users_dao.go does not contain %s", sql)
		}
	}
	if !strings.Contains(files["order_items_dao.go"], `WHERE "order_id" = $1 AND "line" = $2`) {
		t.Error("composite key condition not rendered")
	}
	if !strings.Contains(files["events_dao.go"], `INSERT INTO "events" ("payload") VALUES ($1)`) {
		t.Error("serial column not skipped on insert")
	}
}

func TestRenderPOJOAndRecord(t *testing.T) {
	files := renderMap(t, Config{PackageName: "db", Generate: allArtifacts()})

	f, decls := parseFile(t, "users.go", files["users.go"])
	if !decls["Users"] {
		t.Fatal("users.go: missing Users")
	}
	want := map[string]string{
		"ID":        "int64",
		"Email":     "string",
		"Status":    "*UserStatus",
		"Tags":      "[]UserStatus",
		"CreatedAt": "time.Time",
		"Profile":   "json.RawMessage",
	}
	got := map[string]string{}
	ast.Inspect(f, func(n ast.Node) bool {
		st, ok := n.(*ast.StructType)
		if !ok {
			return true
		}
		for _, field := range st.Fields.List {
			var buf bytes.Buffer
			writeExpr(&buf, field.Type)
			got[field.Names[0].Name] = buf.String()
		}
		return false
	})
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Users fields = %v, want %v", got, want)
	}
	if !strings.Contains(files["users.go"], "`json:\"created_at\"`") {
		t.Error("json tag missing")
	}
	if !strings.Contains(files["users.go"], "// Login address.") {
		t.Error("column comment missing")
	}

	_, decls = parseFile(t, "users_record.go", files["users_record.go"])
	for _, name := range []string{"UsersRecord", "UsersRecord.Columns", "UsersRecord.Values", "UsersRecord.Scan", "UsersRecord.ToUsers", "UsersRecord.FromUsers"} {
		if !decls[name] {
			t.Errorf("users_record.go: missing %s", name)
		}
	}
}

func writeExpr(buf *bytes.Buffer, e ast.Expr) {
	switch e := e.(type) {
	case *ast.Ident:
		buf.WriteString(e.Name)
	case *ast.StarExpr:
		buf.WriteString("*")
		writeExpr(buf, e.X)
	case *ast.ArrayType:
		buf.WriteString("[]")
		writeExpr(buf, e.Elt)
	case *ast.SelectorExpr:
		writeExpr(buf, e.X)
		buf.WriteString("." + e.Sel.Name)
	}
}

func TestRenderArtifactSelection(t *testing.T) {
	files := renderMap(t, Config{PackageName: "db", Generate: Artifacts{Records: true}})
	for name := range files {
		if name != "tables.go" && !strings.HasSuffix(name, "_record.go") {
			t.Errorf("unexpected file %s", name)
		}
	}
	_, decls := parseFile(t, "users_record.go", files["users_record.go"])
	if decls["UsersRecord.ToUsers"] {
		t.Error("conversion rendered without value objects")
	}

	// DAOs need value objects and records.
	files = renderMap(t, Config{PackageName: "db", Generate: Artifacts{DAOs: true}})
	for _, name := range []string{"users.go", "users_record.go", "users_dao.go", "dbtx.go"} {
		if _, ok := files[name]; !ok {
			t.Errorf("missing %s", name)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	cfg := Config{PackageName: "db", Generate: allArtifacts()}
	first, err := Render(testSchema(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Render(testSchema(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatal("output differs between runs")
		}
	}
}

func TestRenderAugmented(t *testing.T) {
	aug := &AugmentConfig{
		Tables: map[string]AugmentTable{
			"users": {
				Name: "User",
				Columns: map[string]AugmentColumn{
					"email":   {Name: "EmailAddress", JSON: "email_address"},
					"profile": {Type: "map[string]any"},
				},
			},
			"events": {Skip: true},
		},
		Enums: map[string]AugmentEnum{"user_status": {Name: "Status"}},
	}
	files := renderMap(t, Config{PackageName: "db", Generate: allArtifacts(), Augment: aug})

	if _, ok := files["events.go"]; ok {
		t.Error("skipped table rendered")
	}
	_, decls := parseFile(t, "users.go", files["users.go"])
	if !decls["User"] {
		t.Error("table rename not applied")
	}
	src := files["users.go"]
	for _, s := range []string{"EmailAddress string `json:\"email_address\"`", "Status *Status", "Tags []Status", "Profile map[string]any"} {
		if !strings.Contains(normalizeSpace(src), s) {
			t.Errorf("users.go does not contain %q\n%s", s, src)
		}
	}
	_, decls = parseFile(t, "tables.go", files["tables.go"])
	if !decls["StatusOnHold"] || decls["UserStatus"] {
		t.Error("enum rename not applied")
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no package", Config{}, "package name is required"},
		{"bad package", Config{PackageName: "com.1bad"}, "not a Go identifier"},
		{"keyword package", Config{PackageName: "a.type"}, "not a Go identifier"},
		{"unknown table", Config{PackageName: "db", Augment: &AugmentConfig{Tables: map[string]AugmentTable{"nope": {}}}}, `unknown table "nope"`},
		{"unknown column", Config{PackageName: "db", Augment: &AugmentConfig{Tables: map[string]AugmentTable{"users": {Columns: map[string]AugmentColumn{"nope": {}}}}}}, `unknown column "nope"`},
		{"unknown enum", Config{PackageName: "db", Augment: &AugmentConfig{Enums: map[string]AugmentEnum{"nope": {}}}}, `unknown enum "nope"`},
		{"duplicate type", Config{PackageName: "db", Augment: &AugmentConfig{Tables: map[string]AugmentTable{"orders": {Name: "Users"}}}}, "conflicts with"},
		{"duplicate field", Config{PackageName: "db", Augment: &AugmentConfig{Tables: map[string]AugmentTable{"users": {Columns: map[string]AugmentColumn{"email": {Name: "ID"}}}}}}, "both map to field ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(testSchema(), tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestRenderDuplicateFileNames(t *testing.T) {
	s := &introspect.Schema{
		Name: "public",
		Tables: []*introspect.Table{
			{Name: "Order Lines", Kind: introspect.BaseTable},
			{Name: "order-lines", Kind: introspect.BaseTable},
		},
	}
	aug := &AugmentConfig{Tables: map[string]AugmentTable{"order-lines": {Name: "OrderLines2"}}}
	_, err := Render(s, Config{PackageName: "db", Generate: allArtifacts(), Augment: aug})
	if err == nil || !strings.Contains(err.Error(), "used twice") {
		t.Fatalf("err = %v, want duplicate file name error", err)
	}
}

func TestFileBase(t *testing.T) {
	tests := []struct {
		table string
		want  string
	}{
		{"users", "users"},
		{"Order Items", "order_items"},
		{"tables", "tables_table"},
		{"dbtx", "dbtx_table"},
		{"user_test", "user_test_table"},
		{"build_linux", "build_linux_table"},
		{"cpu_amd64", "cpu_amd64_table"},
		{"linux", "linux"},
		{"users_record", "users_record_table"},
		{"_private", "private"},
		{"%%%", "table"},
	}
	for _, tt := range tests {
		if got := fileBase(tt.table); got != tt.want {
			t.Errorf("fileBase(%q) = %q, want %q", tt.table, got, tt.want)
		}
	}
}

func TestPackagePath(t *testing.T) {
	dir, name, err := PackagePath("com.example.db")
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join("com", "example", "db") || name != "db" {
		t.Errorf("PackagePath() = %q, %q", dir, name)
	}
	dir, name, err = PackagePath("internal/store")
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join("internal", "store") || name != "store" {
		t.Errorf("PackagePath() = %q, %q", dir, name)
	}
}

func TestRunReplacesOutput(t *testing.T) {
	out := t.TempDir()
	pkgDir := filepath.Join(out, "com", "example", "db")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(pkgDir, "stale.go")
	if err := os.WriteFile(stale, []byte("package db\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Run(testSchema(), Config{PackageName: "com.example.db", OutputDir: out, Generate: allArtifacts()})
	if err != nil {
		t.Fatal(err)
	}
	if res.Dir != pkgDir {
		t.Errorf("Dir = %q, want %q", res.Dir, pkgDir)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale file still present: %v", err)
	}
	for _, name := range res.Files {
		if _, err := os.Stat(filepath.Join(pkgDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	// No staging directories are left behind.
	entries, err := os.ReadDir(filepath.Dir(pkgDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("parent directory has %d entries, want 1", len(entries))
	}
}

func TestRunFailureKeepsOutput(t *testing.T) {
	out := t.TempDir()
	pkgDir := filepath.Join(out, "db")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(pkgDir, "keep.go")
	if err := os.WriteFile(keep, []byte("package db\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	aug := &AugmentConfig{Tables: map[string]AugmentTable{"missing": {}}}
	if _, err := Run(testSchema(), Config{PackageName: "db", OutputDir: out, Generate: allArtifacts(), Augment: aug}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("previous output removed: %v", err)
	}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
