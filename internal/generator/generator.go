// Package generator renders Go source code for the tables, views and enum
// types of an introspected PostgreSQL schema.
package generator

import (
	"errors"
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/andrewkroh/pgsourcegen/internal/introspect"
)

// Artifacts selects the kinds of code generated per table.
type Artifacts struct {
	POJOs   bool `yaml:"pojos"`   // Value objects.
	Records bool `yaml:"records"` // Row records.
	DAOs    bool `yaml:"daos"`    // Data access objects. Implies POJOs and Records.
}

// Config holds all configuration for a generator run.
type Config struct {
	// PackageName is the target package, e.g. "com.example.db" or
	// "internal/db". The last segment is the Go package name.
	PackageName string
	OutputDir   string
	Generate    Artifacts
	Augment     *AugmentConfig
}

// File is a rendered source file. Name is relative to the package directory.
type File struct {
	Name    string
	Content []byte
}

// Result describes a completed generator run.
type Result struct {
	Dir   string // Package directory containing the files.
	Files []string
}

// PackagePath returns the package directory relative to the output
// directory and the Go package name.
func PackagePath(pkg string) (dir, name string, err error) {
	if pkg == "" {
		return "", "", errors.New("package name is required")
	}
	segments := strings.FieldsFunc(pkg, func(r rune) bool { return r == '.' || r == '/' })
	if len(segments) == 0 {
		return "", "", fmt.Errorf("invalid package name %q", pkg)
	}
	for _, s := range segments {
		if !token.IsIdentifier(s) {
			return "", "", fmt.Errorf("invalid package name %q: segment %q is not a Go identifier", pkg, s)
		}
	}
	name = segments[len(segments)-1]
	if name == "main" || strings.HasSuffix(name, "_test") {
		return "", "", fmt.Errorf("invalid package name %q", pkg)
	}
	return filepath.Join(segments...), name, nil
}

// Render builds the model of schema and renders every file of the
// package in memory. Files are returned in name order.
func Render(schema *introspect.Schema, cfg Config) ([]File, error) {
	_, pkgName, err := PackagePath(cfg.PackageName)
	if err != nil {
		return nil, err
	}
	gen := cfg.Generate
	if gen.DAOs {
		gen.POJOs = true
		gen.Records = true
	}

	m := buildModel(schema)
	if err := applyAugmentations(m, cfg.Augment); err != nil {
		return nil, err
	}

	type job struct {
		name string
		fn   func(name string) (File, error)
	}
	e := &Emitter{pkgName: pkgName, model: m, gen: gen}
	jobs := []job{{"tables.go", func(string) (File, error) { return e.emitTables() }}}
	if gen.DAOs {
		jobs = append(jobs, job{"dbtx.go", func(string) (File, error) { return e.emitDBTX() }})
	}
	for _, t := range m.Tables {
		pojo, record, dao := tableFiles(fileBase(t.Table.Name), gen)
		if pojo != "" {
			jobs = append(jobs, job{pojo, func(name string) (File, error) { return e.emitPOJO(t, name) }})
		}
		if record != "" {
			jobs = append(jobs, job{record, func(name string) (File, error) { return e.emitRecord(t, name) }})
		}
		if dao != "" {
			jobs = append(jobs, job{dao, func(name string) (File, error) { return e.emitDAO(t, name) }})
		}
	}

	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.name
	}
	if err := m.validate(names); err != nil {
		return nil, err
	}

	// Rendering only reads the model.
	files := make([]File, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			f, err := j.fn(j.name)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Name, b.Name) })
	return files, nil
}

// Write replaces the content of dir with files. The files are written to
// a sibling directory that is swapped in once every file is on disk, so a
// failure leaves the previous content in place.
func Write(dir string, files []File) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	for _, f := range files {
		if err := os.WriteFile(filepath.Join(tmp, f.Name), f.Content, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	// MkdirTemp creates the directory with mode 0700.
	if err := os.Chmod(tmp, 0o755); err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing previous output: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("moving output into place: %w", err)
	}
	committed = true
	return nil
}

// Run renders the package for schema and writes it below cfg.OutputDir.
func Run(schema *introspect.Schema, cfg Config) (*Result, error) {
	rel, _, err := PackagePath(cfg.PackageName)
	if err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}

	files, err := Render(schema, cfg)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(cfg.OutputDir, rel)
	if err := Write(dir, files); err != nil {
		return nil, err
	}

	res := &Result{Dir: dir, Files: make([]string, 0, len(files))}
	for _, f := range files {
		res.Files = append(res.Files, f.Name)
	}
	return res, nil
}
