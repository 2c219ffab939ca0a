// Package changelog loads Liquibase-style changelogs into an ordered list of
// changesets. Changelogs may be written as YAML or JSON, XML, or Liquibase
// formatted SQL, and may include other changelog files.
package changelog

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ChecksumVersion prefixes every checksum produced by ChangeSet.Checksum.
// It changes whenever the normalization rules change.
const ChecksumVersion = "1"

var (
	// ErrEmpty is returned when a changelog resolves to zero changesets.
	ErrEmpty = errors.New("changelog contains no changesets")

	// ErrIncludeCycle is returned when a changelog includes itself directly
	// or through other includes.
	ErrIncludeCycle = errors.New("include cycle")

	// ErrDuplicateChangeSet is returned when two changesets share the same
	// id, author and file.
	ErrDuplicateChangeSet = errors.New("duplicate changeset")
)

// Changelog is the flattened content of a root changelog file and
// everything it includes, in execution order.
type Changelog struct {
	Path       string // Root changelog file as given to Load.
	ChangeSets []*ChangeSet
}

// ChangeSet is the unit of change tracked in the bookkeeping table.
type ChangeSet struct {
	ID          string
	Author      string
	Path        string // Logical file path, relative to the root changelog directory.
	Line        int    // Line where the changeset starts (0 if unknown).
	Contexts    string // Context expression; empty matches every context.
	Comment     string
	RunAlways   bool
	RunOnChange bool
	Changes     []Change
}

// Change is a single change of a changeset, already rendered to SQL.
type Change struct {
	Kind        string // Liquibase change name, e.g. "createTable" or "sql".
	Description string // Short human readable summary.
	Statements  []string
}

// ParseError reports a problem in a changelog file.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Key uniquely identifies the changeset within a changelog.
func (cs *ChangeSet) Key() string {
	return cs.Path + "::" + cs.ID + "::" + cs.Author
}

// String returns the changeset identity in the form Liquibase prints it.
func (cs *ChangeSet) String() string {
	return cs.Key()
}

// Statements returns all SQL statements of the changeset in order.
func (cs *ChangeSet) Statements() []string {
	var stmts []string
	for _, c := range cs.Changes {
		stmts = append(stmts, c.Statements...)
	}
	return stmts
}

// Description joins the change descriptions, as stored in the
// bookkeeping table.
func (cs *ChangeSet) Description() string {
	parts := make([]string, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		d := c.Description
		if d == "" {
			d = c.Kind
		}
		parts = append(parts, d)
	}
	return strings.Join(parts, "; ")
}

// Checksum returns a versioned MD5 checksum of the changeset's normalized
// SQL. Whitespace differences do not change the checksum.
func (cs *ChangeSet) Checksum() string {
	h := md5.New()
	for _, c := range cs.Changes {
		h.Write([]byte(c.Kind))
		h.Write([]byte{0})
		for _, s := range c.Statements {
			h.Write([]byte(normalizeWhitespace(s)))
			h.Write([]byte{0})
		}
	}
	return ChecksumVersion + ":" + hex.EncodeToString(h.Sum(nil))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// validate checks the identity of a parsed changeset.
func (cs *ChangeSet) validate() error {
	if strings.TrimSpace(cs.ID) == "" {
		return errors.New("changeset id is required")
	}
	if strings.TrimSpace(cs.Author) == "" {
		return fmt.Errorf("changeset %q: author is required", cs.ID)
	}
	if len(cs.Changes) == 0 {
		return fmt.Errorf("changeset %q: no changes", cs.ID)
	}
	return nil
}
