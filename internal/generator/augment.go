package generator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// AugmentConfig holds table, column and enum overrides loaded from an
// augment YAML file.
type AugmentConfig struct {
	Tables map[string]AugmentTable `yaml:"tables"`
	Enums  map[string]AugmentEnum  `yaml:"enums"`
}

// AugmentTable holds overrides for the types generated for one table.
type AugmentTable struct {
	Name    string                   `yaml:"name,omitempty"` // Go type name of the value object.
	Doc     string                   `yaml:"doc,omitempty"`
	Skip    bool                     `yaml:"skip,omitempty"` // Generate nothing for the table.
	Columns map[string]AugmentColumn `yaml:"columns,omitempty"`
}

// AugmentColumn holds overrides for a single column.
type AugmentColumn struct {
	Name string `yaml:"name,omitempty"`
	Doc  string `yaml:"doc,omitempty"`
	JSON string `yaml:"json,omitempty"` // json tag value
	Type string `yaml:"type,omitempty"` // e.g. "*bool", "[]string", "github.com/shopspring/decimal.Decimal"
}

// AugmentEnum holds overrides for an enum type.
type AugmentEnum struct {
	Name string `yaml:"name,omitempty"`
	Doc  string `yaml:"doc,omitempty"`
}

// LoadAugmentations reads and parses an augment YAML file.
func LoadAugmentations(path string) (*AugmentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading augment config: %w", err)
	}

	var config AugmentConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing augment config: %w", err)
	}
	return &config, nil
}

// applyAugmentations applies overrides from the augment config to the
// model. It modifies the model in place and reports overrides that name
// unknown tables, columns or enums.
func applyAugmentations(m *model, config *AugmentConfig) error {
	if config == nil {
		return nil
	}

	// Sorted for deterministic error reporting.
	for _, tableName := range sortedKeys(config.Tables) {
		aug := config.Tables[tableName]
		t := m.table(tableName)
		if t == nil {
			return fmt.Errorf("augment: unknown table %q", tableName)
		}

		if aug.Skip {
			m.remove(t)
			continue
		}
		if aug.Name != "" {
			t.rename(aug.Name)
		}
		if aug.Doc != "" {
			t.Doc = aug.Doc
		}

		for _, colName := range sortedKeys(aug.Columns) {
			colAug := aug.Columns[colName]
			f := t.field(colName)
			if f == nil {
				return fmt.Errorf("augment: unknown column %q of table %q", colName, tableName)
			}
			if colAug.Name != "" {
				f.GoName = colAug.Name
			}
			if colAug.Doc != "" {
				f.Doc = colAug.Doc
			}
			if colAug.JSON != "" {
				f.JSONName = colAug.JSON
			}
			if colAug.Type != "" {
				f.Type = parseTypeRef(colAug.Type)
				f.Overridden = true
				if !f.Column.IsEnum && !isStringType(f.Type) {
					// The override type scans the column natively.
					f.TextType = ""
				}
			}
		}
	}

	for _, enumName := range sortedKeys(config.Enums) {
		aug := config.Enums[enumName]
		e := m.enum(enumName)
		if e == nil {
			return fmt.Errorf("augment: unknown enum %q", enumName)
		}
		if aug.Name != "" && aug.Name != e.GoName {
			m.renameEnum(e, aug.Name)
		}
		if aug.Doc != "" {
			e.Doc = aug.Doc
		}
	}
	return nil
}

// isStringType reports whether r is string, *string or []string.
func isStringType(r GoTypeRef) bool {
	if r.Slice && r.Element != nil {
		r = *r.Element
	}
	return r.Package == "" && r.Name == "string"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
