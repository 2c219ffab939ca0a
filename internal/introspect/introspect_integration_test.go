//go:build integration

package introspect

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func TestReadPartitionedTable(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set; skipping Postgres integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	defer conn.Close(context.Background())

	ddl := `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;
CREATE TABLE measurements (id bigint NOT NULL, taken date NOT NULL, PRIMARY KEY (id, taken)) PARTITION BY RANGE (taken);
CREATE TABLE measurements_2024 PARTITION OF measurements FOR VALUES FROM ('2024-01-01') TO ('2025-01-01');
CREATE TABLE measurements_2025 PARTITION OF measurements FOR VALUES FROM ('2025-01-01') TO ('2026-01-01');`
	if _, err := conn.Exec(ctx, ddl); err != nil {
		t.Fatal(err)
	}

	schema, err := Read(ctx, conn, Filter{InputSchema: "public", Includes: []string{".*"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(schema.Tables) != 1 {
		var names []string
		for _, tbl := range schema.Tables {
			names = append(names, tbl.Name)
		}
		t.Fatalf("tables = %v, want only the partitioned parent", names)
	}
	tbl := schema.Tables[0]
	if tbl.Name != "measurements" || tbl.Kind != BaseTable {
		t.Errorf("table = %s (%s), want measurements (table)", tbl.Name, tbl.Kind)
	}
	if len(tbl.Columns) != 2 || len(tbl.PrimaryKey) != 2 {
		t.Errorf("columns = %d, primary key = %v", len(tbl.Columns), tbl.PrimaryKey)
	}
}
