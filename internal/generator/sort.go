package generator

import (
	"slices"

	"github.com/andrewkroh/pgsourcegen/internal/introspect"
)

// SortTables returns table names in dependency order (referenced tables
// before referencing ones) using a topological sort on foreign keys.
// Self references and references to tables outside the set are ignored.
// Tables that are part of a cycle are appended in name order.
func SortTables(tables []*introspect.Table) []string {
	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t.Name] = true
	}

	// Build adjacency: child → parents.
	deps := make(map[string][]string, len(tables))
	for _, t := range tables {
		deps[t.Name] = nil
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == t.Name || !known[fk.RefTable] || fk.RefSchema != t.Schema && fk.RefSchema != "" {
				continue
			}
			if !slices.Contains(deps[t.Name], fk.RefTable) {
				deps[t.Name] = append(deps[t.Name], fk.RefTable)
			}
		}
	}

	// Kahn's algorithm.
	inDegree := make(map[string]int, len(deps))
	children := make(map[string][]string, len(deps))
	for name, parents := range deps {
		inDegree[name] = len(parents)
		for _, p := range parents {
			children[p] = append(children[p], name)
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	slices.Sort(queue)

	result := make([]string, 0, len(deps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, child := range children[node] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = insertSorted(queue, child)
			}
		}
	}

	if len(result) < len(deps) {
		var cyclic []string
		for name, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		slices.Sort(cyclic)
		result = append(result, cyclic...)
	}
	return result
}

// insertSorted inserts s into a sorted slice maintaining sort order.
func insertSorted(sorted []string, s string) []string {
	i, _ := slices.BinarySearch(sorted, s)
	return slices.Insert(sorted, i, s)
}
