package generator

import (
	"reflect"
	"testing"

	"github.com/andrewkroh/pgsourcegen/internal/introspect"
)

func table(name string, refs ...string) *introspect.Table {
	t := &introspect.Table{Schema: "public", Name: name}
	for _, r := range refs {
		t.ForeignKeys = append(t.ForeignKeys, &introspect.ForeignKey{
			Name:      name + "_" + r + "_fkey",
			RefSchema: "public",
			RefTable:  r,
		})
	}
	return t
}

func TestSortTables(t *testing.T) {
	tests := []struct {
		name   string
		tables []*introspect.Table
		want   []string
	}{
		{
			name:   "independent",
			tables: []*introspect.Table{table("b"), table("a"), table("c")},
			want:   []string{"a", "b", "c"},
		},
		{
			name: "chain",
			tables: []*introspect.Table{
				table("order_items", "orders", "products"),
				table("orders", "users"),
				table("products"),
				table("users"),
			},
			want: []string{"products", "users", "orders", "order_items"},
		},
		{
			name:   "self reference",
			tables: []*introspect.Table{table("categories", "categories"), table("a")},
			want:   []string{"a", "categories"},
		},
		{
			name:   "unknown reference",
			tables: []*introspect.Table{table("orders", "customers")},
			want:   []string{"orders"},
		},
		{
			name: "cycle",
			tables: []*introspect.Table{
				table("b", "a"),
				table("a", "b"),
				table("c"),
				table("d", "a"),
			},
			want: []string{"c", "a", "b", "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SortTables(tt.tables)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SortTables() = %v, want %v", got, tt.want)
			}
		})
	}
}
