package generator

import (
	"go/token"
	"strings"
	"unicode"
)

// knownAbbreviations maps lowercase abbreviations to their Go-conventional
// uppercase forms. When a word segment matches one of these entries during
// identifier construction the uppercase form is used instead.
var knownAbbreviations = map[string]string{
	"id":    "ID",
	"ids":   "IDs",
	"url":   "URL",
	"urls":  "URLs",
	"uri":   "URI",
	"uuid":  "UUID",
	"cpu":   "CPU",
	"ip":    "IP",
	"api":   "API",
	"ssl":   "SSL",
	"tls":   "TLS",
	"http":  "HTTP",
	"https": "HTTPS",
	"ui":    "UI",
	"svg":   "SVG",
	"json":  "JSON",
	"yaml":  "YAML",
	"xml":   "XML",
	"csv":   "CSV",
	"html":  "HTML",
	"css":   "CSS",
	"sql":   "SQL",
	"tcp":   "TCP",
	"udp":   "UDP",
	"dns":   "DNS",
	"ssh":   "SSH",
	"vm":    "VM",
	"os":    "OS",
	"ca":    "CA",
	"ttl":   "TTL",
	"sku":   "SKU",
	"utc":   "UTC",
	"acl":   "ACL",
}

// ToGoName converts a SQL identifier (e.g. "created_at") into an exported
// Go identifier (e.g. "CreatedAt"). It handles snake_case, kebab-case,
// dot-separated, space-separated and camelCase input. Known abbreviations
// are uppercased per Go convention. Characters that cannot appear in a Go
// identifier are dropped; a leading digit is prefixed with "X".
func ToGoName(sqlName string) string {
	s := joinWords(sqlName)
	if s != "" && unicode.IsDigit([]rune(s)[0]) {
		s = "X" + s
	}
	return s
}

func joinWords(s string) string {
	var b strings.Builder
	for _, w := range splitWords(s) {
		if upper, ok := knownAbbreviations[strings.ToLower(w)]; ok {
			b.WriteString(upper)
		} else {
			b.WriteString(capitalize(w))
		}
	}
	return b.String()
}

// ToTypeName derives the Go type name for a table or enum type. It falls
// back to fallback when the name has no usable characters.
func ToTypeName(sqlName, fallback string) string {
	if name := ToGoName(sqlName); name != "" {
		return name
	}
	return fallback
}

// paramName returns an unexported identifier for use as a function
// parameter, avoiding Go keywords and the names used by generated code.
func paramName(sqlName string) string {
	name := ToGoName(sqlName)
	if name == "" {
		return "v"
	}
	words := splitWords(name)
	first := words[0]
	if upper, ok := knownAbbreviations[strings.ToLower(first)]; ok && upper == first {
		name = strings.ToLower(first) + name[len(first):]
	} else {
		r := []rune(name)
		r[0] = unicode.ToLower(r[0])
		name = string(r)
	}
	if token.IsKeyword(name) || reservedParams[name] {
		name += "_"
	}
	return name
}

// reservedParams are identifiers generated methods already use.
var reservedParams = map[string]bool{
	"ctx": true, "d": true, "r": true, "row": true, "rows": true,
	"err": true, "tag": true, "values": true, "p": true, "ok": true,
	"n": true, "sql": true, "args": true,
}

// splitWords breaks an identifier string into its component words. It
// handles snake_case, kebab-case, dot-separated, and camelCase boundaries.
func splitWords(s string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r):
			// A lower-to-upper transition starts a word; inside an upper
			// run ("URLParser") the last upper rune starts the next word.
			if current.Len() > 0 && i > 0 && unicode.IsLower(runes[i-1]) {
				flush()
			} else if current.Len() > 1 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
				flush()
			}
			current.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}

// capitalize returns s with its first rune uppercased and the rest lowercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	for i := 1; i < len(runes); i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// enumConstName generates a Go constant name for an enum label.
func enumConstName(typeName, label string) string {
	name := joinWords(label)
	if name == "" {
		return typeName + "Empty"
	}
	return typeName + name
}
