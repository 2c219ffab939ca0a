package changelog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// entry is one top-level element of a changelog file, either a changeset or
// an include directive.
type entry struct {
	changeSet  *ChangeSet
	include    *include
	includeAll *include
}

type include struct {
	Path                    string
	RelativeToChangelogFile bool
	Line                    int
}

// source identifies the file being parsed. Both paths are absolute; they
// are used to resolve files referenced by the content.
type source struct {
	file string
	root string
}

// parser turns the raw content of one file into entries.
type parser func(src source, data []byte) ([]entry, error)

// parsers maps a lower-case file extension to its parser.
var parsers = map[string]parser{
	".yaml": parseYAML,
	".yml":  parseYAML,
	".json": parseYAML,
	".xml":  parseXML,
	".sql":  parseFormattedSQL,
}

// Supported reports whether path has an extension Load can parse.
func Supported(path string) bool {
	_, ok := parsers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads the changelog at path and every file it includes. Paths inside
// the changelog are resolved against the directory of the root changelog,
// or against the including file when relativeToChangelogFile is set.
func Load(path string) (*Changelog, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving changelog path: %w", err)
	}

	l := &loader{
		root:     filepath.Dir(abs),
		visiting: map[string]bool{},
		keys:     map[string]bool{},
	}
	if err := l.loadFile(abs); err != nil {
		return nil, err
	}
	if len(l.changeSets) == 0 {
		return nil, &ParseError{Path: path, Err: ErrEmpty}
	}

	return &Changelog{Path: path, ChangeSets: l.changeSets}, nil
}

type loader struct {
	root       string
	visiting   map[string]bool // Files on the current include stack.
	keys       map[string]bool // Changeset keys seen so far.
	changeSets []*ChangeSet
}

func (l *loader) loadFile(file string) error {
	logical := l.logicalPath(file)
	if l.visiting[file] {
		return &ParseError{Path: logical, Err: ErrIncludeCycle}
	}
	l.visiting[file] = true
	defer delete(l.visiting, file)

	parse, ok := parsers[strings.ToLower(filepath.Ext(file))]
	if !ok {
		return &ParseError{Path: logical, Err: fmt.Errorf("unsupported changelog format %q", filepath.Ext(file))}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading changelog: %w", err)
	}

	entries, err := parse(source{file: file, root: l.root}, data)
	if err != nil {
		// Parsers report line information through a ParseError without a
		// path.
		var pe *ParseError
		if errors.As(err, &pe) && pe.Path == "" {
			pe.Path = logical
			return pe
		}
		return &ParseError{Path: logical, Err: err}
	}

	for _, e := range entries {
		switch {
		case e.changeSet != nil:
			cs := e.changeSet
			cs.Path = logical
			if err := cs.validate(); err != nil {
				return &ParseError{Path: logical, Line: cs.Line, Err: err}
			}
			if l.keys[cs.Key()] {
				return &ParseError{Path: logical, Line: cs.Line, Err: fmt.Errorf("%w: %s", ErrDuplicateChangeSet, cs.Key())}
			}
			l.keys[cs.Key()] = true
			l.changeSets = append(l.changeSets, cs)
		case e.include != nil:
			target := l.resolve(file, e.include)
			if err := l.loadFile(target); err != nil {
				return err
			}
		case e.includeAll != nil:
			if err := l.loadDir(file, e.includeAll); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadDir loads every supported file below the included directory in
// lexical order.
func (l *loader) loadDir(from string, inc *include) error {
	dir := l.resolve(from, inc)

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !Supported(path) || path == from {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return &ParseError{Path: l.logicalPath(from), Line: inc.Line, Err: fmt.Errorf("includeAll %s: %w", inc.Path, err)}
	}
	slices.Sort(files)

	for _, f := range files {
		if err := l.loadFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) resolve(from string, inc *include) string {
	p := filepath.FromSlash(inc.Path)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if inc.RelativeToChangelogFile {
		return filepath.Join(filepath.Dir(from), p)
	}
	return filepath.Join(l.root, p)
}

// logicalPath is the file name recorded for changesets: relative to the
// root changelog directory and slash separated, so that the bookkeeping
// rows do not depend on where the project is checked out.
func (l *loader) logicalPath(file string) string {
	rel, err := filepath.Rel(l.root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(file)
	}
	return filepath.ToSlash(rel)
}
