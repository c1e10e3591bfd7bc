package columns

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// File is the on-disk layout of a column registry.
type File struct {
	Columns []*core.Column `yaml:"columns"`
}

// LoadError represents an error loading a registry file.
type LoadError struct {
	File    string
	Column  string
	Message string
}

func (e *LoadError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s: column %q: %s", filepath.Base(e.File), e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", filepath.Base(e.File), e.Message)
}

// Load reads and validates a YAML registry file.
func Load(path string) ([]*core.Column, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}
	}
	return Parse(path, content)
}

// Parse decodes and validates registry YAML.
func Parse(filename string, content []byte) ([]*core.Column, error) {
	var f File
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, &LoadError{File: filename, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	seen := make(map[string]struct{}, len(f.Columns))
	for _, c := range f.Columns {
		if c.ID == "" {
			return nil, &LoadError{File: filename, Message: "column without id"}
		}
		if _, dup := seen[c.ID]; dup {
			return nil, &LoadError{File: filename, Column: c.ID, Message: "duplicate id"}
		}
		seen[c.ID] = struct{}{}

		if c.DataType == "" {
			c.DataType = core.DataTypeString
		}
		if !c.DataType.Valid() {
			return nil, &LoadError{File: filename, Column: c.ID, Message: fmt.Sprintf("unknown data type %q", c.DataType)}
		}
		if c.IsComputed() && c.Function == "" {
			return nil, &LoadError{File: filename, Column: c.ID, Message: "function column without function"}
		}
		if c.Name == "" {
			c.Name = DefaultName(c.ID)
		}
	}
	return f.Columns, nil
}

// DefaultName derives a display name from a column id: "discount_pct" becomes
// "Discount Pct".
func DefaultName(id string) string {
	words := strings.NewReplacer("_", " ", "-", " ").Replace(id)
	return cases.Title(language.English).String(words)
}
