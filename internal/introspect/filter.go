package introspect

import (
	"fmt"
	"regexp"
)

// DefaultSchema is the schema read when Filter.InputSchema is empty.
const DefaultSchema = "public"

// Filter selects the tables of a schema. Patterns are regular expressions
// that must match the whole table name, or the whole "schema.table" name,
// ignoring case. Excludes take precedence over includes; no includes
// selects every table.
type Filter struct {
	InputSchema string
	Includes    []string
	Excludes    []string
}

// Matcher is a compiled Filter.
type Matcher struct {
	schema   string
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
}

// Compile validates and compiles the filter patterns.
func (f Filter) Compile() (*Matcher, error) {
	m := &Matcher{schema: f.InputSchema}
	if m.schema == "" {
		m.schema = DefaultSchema
	}

	var err error
	if m.includes, err = compileAll(f.Includes); err != nil {
		return nil, fmt.Errorf("include pattern: %w", err)
	}
	if m.excludes, err = compileAll(f.Excludes); err != nil {
		return nil, fmt.Errorf("exclude pattern: %w", err)
	}
	return m, nil
}

// Schema returns the schema the filter applies to.
func (m *Matcher) Schema() string { return m.schema }

// Match reports whether table is selected.
func (m *Matcher) Match(table string) bool {
	qualified := m.schema + "." + table
	for _, re := range m.excludes {
		if re.MatchString(table) || re.MatchString(qualified) {
			return false
		}
	}
	if len(m.includes) == 0 {
		return true
	}
	for _, re := range m.includes {
		if re.MatchString(table) || re.MatchString(qualified) {
			return true
		}
	}
	return false
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)^(?:` + p + `)$`)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
