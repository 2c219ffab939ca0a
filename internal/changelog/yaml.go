package changelog

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlChangeSet is the YAML (and JSON) form of a changeset.
type yamlChangeSet struct {
	ID          string      `yaml:"id"`
	Author      string      `yaml:"author"`
	Context     string      `yaml:"context"`
	Contexts    string      `yaml:"contexts"`
	Comment     string      `yaml:"comment"`
	RunAlways   bool        `yaml:"runAlways"`
	RunOnChange bool        `yaml:"runOnChange"`
	Changes     []yaml.Node `yaml:"changes"`
}

type yamlInclude struct {
	File                    string `yaml:"file"`
	Path                    string `yaml:"path"`
	RelativeToChangelogFile bool   `yaml:"relativeToChangelogFile"`
}

// parseYAML parses a changelog in the Liquibase YAML format. JSON is a
// subset of YAML, so JSON changelogs are handled here too.
func parseYAML(src source, data []byte) ([]entry, error) {
	var doc struct {
		DatabaseChangeLog []yaml.Node `yaml:"databaseChangeLog"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing changelog: %w", err)
	}
	if doc.DatabaseChangeLog == nil {
		return nil, errors.New("missing databaseChangeLog list")
	}

	var entries []entry
	for i := range doc.DatabaseChangeLog {
		item := &doc.DatabaseChangeLog[i]
		key, val, err := singleKey(item)
		if err != nil {
			return nil, err
		}

		switch key {
		case "changeSet":
			cs, err := decodeYAMLChangeSet(src, val)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry{changeSet: cs})
		case "include":
			var inc yamlInclude
			if err := val.Decode(&inc); err != nil {
				return nil, &ParseError{Line: val.Line, Err: err}
			}
			if inc.File == "" {
				return nil, &ParseError{Line: val.Line, Err: errors.New("include: file is required")}
			}
			entries = append(entries, entry{include: &include{Path: inc.File, RelativeToChangelogFile: inc.RelativeToChangelogFile, Line: val.Line}})
		case "includeAll":
			var inc yamlInclude
			if err := val.Decode(&inc); err != nil {
				return nil, &ParseError{Line: val.Line, Err: err}
			}
			if inc.Path == "" {
				return nil, &ParseError{Line: val.Line, Err: errors.New("includeAll: path is required")}
			}
			entries = append(entries, entry{includeAll: &include{Path: inc.Path, RelativeToChangelogFile: inc.RelativeToChangelogFile, Line: val.Line}})
		case "property", "preConditions":
			// Not evaluated.
		default:
			return nil, &ParseError{Line: item.Line, Err: fmt.Errorf("unsupported changelog element %q", key)}
		}
	}
	return entries, nil
}

func decodeYAMLChangeSet(src source, node *yaml.Node) (*ChangeSet, error) {
	var raw yamlChangeSet
	if err := node.Decode(&raw); err != nil {
		return nil, &ParseError{Line: node.Line, Err: err}
	}

	cs := &ChangeSet{
		ID:          raw.ID,
		Author:      raw.Author,
		Line:        node.Line,
		Contexts:    raw.Context,
		Comment:     raw.Comment,
		RunAlways:   raw.RunAlways,
		RunOnChange: raw.RunOnChange,
	}
	if cs.Contexts == "" {
		cs.Contexts = raw.Contexts
	}

	for i := range raw.Changes {
		kind, val, err := singleKey(&raw.Changes[i])
		if err != nil {
			return nil, err
		}
		c, err := decodeYAMLChange(src, kind, val)
		if err != nil {
			return nil, &ParseError{Line: val.Line, Err: fmt.Errorf("changeset %q: %w", cs.ID, err)}
		}
		cs.Changes = append(cs.Changes, c)
	}
	return cs, nil
}

func decodeYAMLChange(src source, kind string, node *yaml.Node) (Change, error) {
	switch kind {
	case "sql":
		var c SQLChange
		if node.Kind == yaml.ScalarNode {
			c.SQL = node.Value
		} else if err := node.Decode(&c); err != nil {
			return Change{}, err
		}
		return c.toChange()
	case "sqlFile":
		var c SQLFileChange
		if err := node.Decode(&c); err != nil {
			return Change{}, err
		}
		return c.toChange(src.file, src.root)
	case "createTable":
		var c CreateTableChange
		if err := node.Decode(&c); err != nil {
			return Change{}, err
		}
		return c.toChange()
	case "addColumn":
		var c AddColumnChange
		if err := node.Decode(&c); err != nil {
			return Change{}, err
		}
		return c.toChange()
	case "dropTable":
		var c DropTableChange
		if err := node.Decode(&c); err != nil {
			return Change{}, err
		}
		return c.toChange()
	case "createIndex":
		var c CreateIndexChange
		if err := node.Decode(&c); err != nil {
			return Change{}, err
		}
		return c.toChange()
	default:
		return Change{}, fmt.Errorf("unsupported change type %q", kind)
	}
}

// singleKey unpacks the "- key: value" list items used throughout the
// Liquibase YAML format.
func singleKey(n *yaml.Node) (string, *yaml.Node, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return "", nil, &ParseError{Line: n.Line, Err: errors.New("expected a mapping with a single key")}
	}
	return n.Content[0].Value, n.Content[1], nil
}
