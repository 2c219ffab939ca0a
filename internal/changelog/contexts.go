package changelog

import (
	"regexp"
	"strings"
)

var (
	orSeparator  = regexp.MustCompile(`(?i)\s*,\s*|\s+or\s+`)
	andSeparator = regexp.MustCompile(`(?i)\s+and\s+`)
)

// MatchContexts reports whether the context expression expr selects the
// runtime contexts. An empty expression matches everything, and so does an
// empty set of runtime contexts.
//
// Expressions are a list of alternatives separated by "," or "or"; each
// alternative is a conjunction of terms joined by "and"; a term may be
// negated with "!" or "not". Names are compared case-insensitively.
func MatchContexts(expr string, runtime []string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" || len(runtime) == 0 {
		return true
	}

	active := make(map[string]bool, len(runtime))
	for _, c := range runtime {
		active[strings.ToLower(strings.TrimSpace(c))] = true
	}

	for _, alt := range orSeparator.Split(expr, -1) {
		if alt = strings.TrimSpace(alt); alt == "" {
			continue
		}
		if matchAll(andSeparator.Split(alt, -1), active) {
			return true
		}
	}
	return false
}

func matchAll(terms []string, active map[string]bool) bool {
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		negate := false
		switch {
		case strings.HasPrefix(term, "!"):
			negate = true
			term = strings.TrimSpace(term[1:])
		case strings.HasPrefix(term, "not "):
			negate = true
			term = strings.TrimSpace(term[len("not "):])
		}
		if active[term] == negate {
			return false
		}
	}
	return true
}
