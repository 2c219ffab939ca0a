package changelog

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	formattedHeader = regexp.MustCompile(`(?i)^--\s*liquibase\s+formatted\s+sql`)
	changeSetLine   = regexp.MustCompile(`(?i)^--\s*changeset\s+("[^"]+"|[^:\s]+):\s*("[^"]+"|\S+)(.*)$`)
	commentLine     = regexp.MustCompile(`(?i)^--\s*comment:\s*(.*)$`)
	rollbackLine    = regexp.MustCompile(`(?i)^--\s*rollback\b`)
	ignoredLine     = regexp.MustCompile(`(?i)^--\s*(precondition-|preconditions\b|validCheckSum\b)`)
	attributePair   = regexp.MustCompile(`(\w+):("[^"]*"|\S+)`)
)

// Raw SQL files without the formatted header become a single changeset
// with this identity, matching what Liquibase records for them.
const (
	rawChangeSetID     = "raw"
	rawChangeSetAuthor = "includeAll"
)

// formattedChangeSet accumulates a changeset while scanning the file.
type formattedChangeSet struct {
	cs        *ChangeSet
	body      strings.Builder
	split     *bool
	delimiter string
	strip     bool
}

// parseFormattedSQL parses a Liquibase formatted SQL changelog. A file
// that does not start with the "--liquibase formatted sql" header is
// treated as a single raw changeset.
func parseFormattedSQL(_ source, data []byte) ([]entry, error) {
	if !isFormattedSQL(data) {
		stmts := SplitStatements(string(data), ";")
		if len(stmts) == 0 {
			return nil, fmt.Errorf("sql file contains no statements")
		}
		return []entry{{changeSet: &ChangeSet{
			ID:      rawChangeSetID,
			Author:  rawChangeSetAuthor,
			Line:    1,
			Changes: []Change{{Kind: "sql", Description: "sql", Statements: stmts}},
		}}}, nil
	}

	var (
		entries []entry
		current *formattedChangeSet
	)
	flush := func() error {
		if current == nil {
			return nil
		}
		stmts := prepareSQL(current.body.String(), current.split, current.delimiter, current.strip)
		if len(stmts) == 0 {
			return &ParseError{Line: current.cs.Line, Err: fmt.Errorf("changeset %q has no SQL", current.cs.ID)}
		}
		current.cs.Changes = []Change{{Kind: "sql", Description: "sql", Statements: stmts}}
		entries = append(entries, entry{changeSet: current.cs})
		current = nil
		return nil
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	inRollbackBlock := false
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if inRollbackBlock {
			if strings.Contains(trimmed, "*/") {
				inRollbackBlock = false
			}
			continue
		}

		switch {
		case formattedHeader.MatchString(trimmed):
			continue
		case changeSetLine.MatchString(trimmed):
			if err := flush(); err != nil {
				return nil, err
			}
			fc, err := newFormattedChangeSet(trimmed, lineNo)
			if err != nil {
				return nil, err
			}
			current = fc
			continue
		}

		if current == nil {
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("SQL outside of a changeset")}
			}
			continue
		}

		switch {
		case rollbackLine.MatchString(trimmed), ignoredLine.MatchString(trimmed):
			continue
		case strings.HasPrefix(strings.ToLower(trimmed), "/* liquibase rollback"):
			inRollbackBlock = !strings.Contains(trimmed, "*/")
			continue
		case commentLine.MatchString(trimmed):
			c := commentLine.FindStringSubmatch(trimmed)[1]
			if current.cs.Comment == "" {
				current.cs.Comment = strings.TrimSpace(c)
			} else {
				current.cs.Comment += " " + strings.TrimSpace(c)
			}
			continue
		}

		current.body.WriteString(line)
		current.body.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading sql changelog: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return entries, nil
}

func newFormattedChangeSet(line string, lineNo int) (*formattedChangeSet, error) {
	m := changeSetLine.FindStringSubmatch(line)
	fc := &formattedChangeSet{
		cs: &ChangeSet{
			Author: strings.Trim(m[1], `"`),
			ID:     strings.Trim(m[2], `"`),
			Line:   lineNo,
		},
	}

	for _, kv := range attributePair.FindAllStringSubmatch(m[3], -1) {
		key, value := kv[1], strings.Trim(kv[2], `"`)
		var err error
		switch strings.ToLower(key) {
		case "context", "contextfilter", "contexts":
			fc.cs.Contexts = value
		case "runalways":
			fc.cs.RunAlways, err = parseBool(value)
		case "runonchange":
			fc.cs.RunOnChange, err = parseBool(value)
		case "splitstatements":
			var b bool
			if b, err = parseBool(value); err == nil {
				fc.split = &b
			}
		case "enddelimiter":
			fc.delimiter = value
		case "stripcomments":
			fc.strip, err = parseBool(value)
		}
		if err != nil {
			return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("changeset %q attribute %s: %w", fc.cs.ID, key, err)}
		}
	}
	return fc, nil
}

func isFormattedSQL(data []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		return formattedHeader.MatchString(line)
	}
	return false
}

func parseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}
