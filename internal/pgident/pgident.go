// Package pgident validates and quotes PostgreSQL identifiers.
package pgident

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// MaxLength is the number of bytes PostgreSQL keeps from an identifier
// (NAMEDATALEN - 1).
const MaxLength = 63

var (
	// simpleIdentifier matches names that may be written without quotes.
	simpleIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_$]*$`)

	// plainIdentifier matches the identifiers accepted from users, for
	// example schema names used as database names.
	plainIdentifier = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

// reservedWords contains the PostgreSQL key words that are reserved (or
// reserved with restrictions) and must be quoted when used as a name.
var reservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "asymmetric": true,
	"authorization": true, "binary": true, "both": true, "case": true,
	"cast": true, "check": true, "collate": true, "collation": true,
	"column": true, "concurrently": true, "constraint": true, "create": true,
	"cross": true, "current_catalog": true, "current_date": true,
	"current_role": true, "current_schema": true, "current_time": true,
	"current_timestamp": true, "current_user": true, "default": true,
	"deferrable": true, "desc": true, "distinct": true, "do": true,
	"else": true, "end": true, "except": true, "false": true, "fetch": true,
	"for": true, "foreign": true, "freeze": true, "from": true, "full": true,
	"grant": true, "group": true, "having": true, "ilike": true, "in": true,
	"initially": true, "inner": true, "intersect": true, "into": true,
	"is": true, "isnull": true, "join": true, "lateral": true, "leading": true,
	"left": true, "like": true, "limit": true, "localtime": true,
	"localtimestamp": true, "natural": true, "not": true, "notnull": true,
	"null": true, "offset": true, "on": true, "only": true, "or": true,
	"order": true, "outer": true, "overlaps": true, "placing": true,
	"primary": true, "references": true, "returning": true, "right": true,
	"select": true, "session_user": true, "similar": true, "some": true,
	"symmetric": true, "system_user": true, "table": true, "tablesample": true,
	"then": true, "to": true, "trailing": true, "true": true, "union": true,
	"unique": true, "user": true, "using": true, "variadic": true,
	"verbose": true, "when": true, "where": true, "window": true, "with": true,
}

// IsReserved reports whether name is a reserved PostgreSQL key word.
func IsReserved(name string) bool {
	return reservedWords[strings.ToLower(name)]
}

// Quote returns name unchanged if it can be used unquoted, otherwise it
// returns the name wrapped in double quotes with embedded quotes escaped.
func Quote(name string) string {
	if simpleIdentifier.MatchString(name) && !IsReserved(name) {
		return name
	}
	return pgx.Identifier{name}.Sanitize()
}

// QuoteAlways returns name wrapped in double quotes with embedded quotes
// escaped. Case and reserved words are preserved.
func QuoteAlways(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QuoteQualified quotes each non-empty part and joins them with dots.
func QuoteQualified(parts ...string) string {
	var quoted []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		quoted = append(quoted, Quote(p))
	}
	return strings.Join(quoted, ".")
}

// Validate ensures name starts with a letter, contains only letters, digits
// and underscores, and fits within MaxLength. field names the value in the
// returned error.
func Validate(name, field string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(name) > MaxLength {
		return fmt.Errorf("%s must be at most %d bytes (got %d)", field, MaxLength, len(name))
	}
	if !plainIdentifier.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", field, name)
	}
	return nil
}
