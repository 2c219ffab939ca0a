// Package build maintains the build descriptor of the enclosing project,
// a YAML file listing the directories that are compiled as sources.
package build

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the descriptor file name within a project directory.
const DefaultFile = "pgsourcegen.build.yml"

const sourceRootsKey = "compile_source_roots"

// Descriptor is a build descriptor loaded from disk. Content other than
// the source root list, including comments, is preserved on Save.
type Descriptor struct {
	path       string
	projectDir string
	doc        *yaml.Node
}

// Open reads the descriptor at path. Source roots are stored relative to
// projectDir. A missing file yields an empty descriptor.
func Open(path, projectDir string) (*Descriptor, error) {
	d := &Descriptor{path: path, projectDir: projectDir}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading build descriptor: %w", err)
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing build descriptor %s: %w", path, err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode}
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("build descriptor %s: top level must be a mapping", path)
	}
	d.doc = &doc
	return d, nil
}

// Path returns the descriptor file path.
func (d *Descriptor) Path() string { return d.path }

func (d *Descriptor) root() *yaml.Node { return d.doc.Content[0] }

// roots returns the source root sequence node, or nil.
func (d *Descriptor) roots() (*yaml.Node, error) {
	m := d.root()
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != sourceRootsKey {
			continue
		}
		v := m.Content[i+1]
		switch {
		case v.Kind == yaml.SequenceNode:
			return v, nil
		case v.Kind == yaml.ScalarNode && v.Tag == "!!null":
			*v = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			return v, nil
		default:
			return nil, fmt.Errorf("build descriptor %s: %s must be a list", d.path, sourceRootsKey)
		}
	}
	return nil, nil
}

// CompileSourceRoots returns the registered source roots.
func (d *Descriptor) CompileSourceRoots() []string {
	seq, err := d.roots()
	if err != nil || seq == nil {
		return nil
	}
	out := make([]string, 0, len(seq.Content))
	for _, n := range seq.Content {
		if n.Kind == yaml.ScalarNode {
			out = append(out, n.Value)
		}
	}
	return out
}

// AddCompileSourceRoot registers dir as a source root. It reports whether
// dir was added; a directory already listed is not added again.
func (d *Descriptor) AddCompileSourceRoot(dir string) (bool, error) {
	entry, err := d.relative(dir)
	if err != nil {
		return false, err
	}

	seq, err := d.roots()
	if err != nil {
		return false, err
	}
	if seq == nil {
		seq = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		m := d.root()
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: sourceRootsKey},
			seq,
		)
	}

	for _, n := range seq.Content {
		if n.Kind != yaml.ScalarNode {
			continue
		}
		existing, err := d.relative(filepath.FromSlash(n.Value))
		if err == nil && existing == entry {
			return false, nil
		}
	}
	seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: entry})
	return true, nil
}

// relative returns dir relative to the project directory in slash form.
// Directories outside the project stay absolute.
func (d *Descriptor) relative(dir string) (string, error) {
	base, err := filepath.Abs(d.projectDir)
	if err != nil {
		return "", err
	}
	abs := dir
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(base, dir)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(abs), nil
	}
	return filepath.ToSlash(rel), nil
}

// Save writes the descriptor. The file is replaced atomically.
func (d *Descriptor) Save() error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.doc); err != nil {
		return fmt.Errorf("encoding build descriptor: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding build descriptor: %w", err)
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(d.path)+"-*")
	if err != nil {
		return fmt.Errorf("writing build descriptor: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing build descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing build descriptor: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("writing build descriptor: %w", err)
	}
	return nil
}
