package changelog

import "strings"

type regionKind int

const (
	regionNone regionKind = iota
	regionString
	regionComment
)

// SplitStatements splits script at each occurrence of delimiter outside of
// string literals, quoted identifiers, comments and dollar-quoted bodies.
// Statements consisting only of whitespace and comments are dropped.
func SplitStatements(script, delimiter string) []string {
	if delimiter == "" {
		delimiter = ";"
	}

	var stmts []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if strings.TrimSpace(StripComments(s)) == "" {
			return
		}
		stmts = append(stmts, s)
	}

	start := 0
	for i := 0; i < len(script); {
		if end, kind := skipRegion(script, i); kind != regionNone {
			i = end
			continue
		}
		if strings.HasPrefix(script[i:], delimiter) {
			add(script[start:i])
			i += len(delimiter)
			start = i
			continue
		}
		i++
	}
	add(script[start:])
	return stmts
}

// StripComments removes line and block comments that appear outside of
// quoted text.
func StripComments(script string) string {
	var b strings.Builder
	b.Grow(len(script))
	for i := 0; i < len(script); {
		end, kind := skipRegion(script, i)
		switch kind {
		case regionString:
			b.WriteString(script[i:end])
			i = end
		case regionComment:
			if strings.HasPrefix(script[i:], "/*") {
				b.WriteByte(' ')
			}
			i = end
		default:
			b.WriteByte(script[i])
			i++
		}
	}
	return b.String()
}

// skipRegion returns the end offset of the quoted text or comment starting
// at s[i], or regionNone if none starts there. Unterminated regions extend
// to the end of s.
func skipRegion(s string, i int) (int, regionKind) {
	switch {
	case s[i] == '\'':
		return skipQuoted(s, i, '\'', isEscapeString(s, i)), regionString
	case s[i] == '"':
		return skipQuoted(s, i, '"', false), regionString
	case strings.HasPrefix(s[i:], "--"):
		if nl := strings.IndexByte(s[i:], '\n'); nl >= 0 {
			return i + nl, regionComment
		}
		return len(s), regionComment
	case strings.HasPrefix(s[i:], "/*"):
		return skipBlockComment(s, i), regionComment
	case s[i] == '$':
		if tag := dollarTag(s, i); tag != "" {
			body := i + len(tag)
			if end := strings.Index(s[body:], tag); end >= 0 {
				return body + end + len(tag), regionString
			}
			return len(s), regionString
		}
	}
	return i, regionNone
}

// skipQuoted skips a literal opened by quote at s[i]. Doubled quotes are
// part of the literal; backslash escapes apply to E'...' strings.
func skipQuoted(s string, i int, quote byte, backslash bool) int {
	for j := i + 1; j < len(s); j++ {
		switch {
		case backslash && s[j] == '\\':
			j++
		case s[j] == quote:
			if j+1 < len(s) && s[j+1] == quote {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(s)
}

// skipBlockComment skips a possibly nested /* ... */ comment.
func skipBlockComment(s string, i int) int {
	depth := 0
	for j := i; j < len(s)-1; j++ {
		switch {
		case s[j] == '/' && s[j+1] == '*':
			depth++
			j++
		case s[j] == '*' && s[j+1] == '/':
			depth--
			j++
			if depth == 0 {
				return j + 1
			}
		}
	}
	return len(s)
}

// dollarTag returns the opening tag ("$$" or "$name$") of a dollar-quoted
// string starting at s[i], or "" if s[i] does not start one.
func dollarTag(s string, i int) string {
	if i > 0 && isIdentChar(s[i-1]) {
		return ""
	}
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[i : j+1]
		}
		if j == i+1 && !isIdentStart(c) {
			return ""
		}
		if !isIdentChar(c) {
			return ""
		}
	}
	return ""
}

func isEscapeString(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentChar(s[i-2])
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}
