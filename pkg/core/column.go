package core

import "fmt"

// DataType is the value type stored in a column.
type DataType string

// Supported column data types. DataTypeFunction marks a computed column.
const (
	DataTypeString   DataType = "string"
	DataTypeNumber   DataType = "number"
	DataTypeCurrency DataType = "currency"
	DataTypeBoolean  DataType = "boolean"
	DataTypeDate     DataType = "date"
	DataTypeSelect   DataType = "select"
	DataTypeEmail    DataType = "email"
	DataTypeFunction DataType = "function"
)

// IDBinding is the literal argument binding that resolves to the record's own
// identifier. It never creates a dependency edge.
const IDBinding = "ID"

// Valid reports whether t is a known data type.
func (t DataType) Valid() bool {
	switch t {
	case DataTypeString, DataTypeNumber, DataTypeCurrency, DataTypeBoolean,
		DataTypeDate, DataTypeSelect, DataTypeEmail, DataTypeFunction:
		return true
	}
	return false
}

// ArgumentBinding binds one parameter of a column function to its source.
// Exactly one of ColumnReference, ColumnReferences or Value is normally set.
type ArgumentBinding struct {
	// Name is the parameter name as reported by source analysis.
	Name string `yaml:"name" json:"name"`
	// ColumnReference addresses a single source column by columnName, or IDBinding.
	ColumnReference string `yaml:"columnReference,omitempty" json:"columnReference,omitempty"`
	// ColumnReferences addresses several source columns; the argument is a list.
	ColumnReferences []string `yaml:"columnReferences,omitempty" json:"columnReferences,omitempty"`
	// Value is a literal passed as-is when no column is referenced.
	Value any `yaml:"value,omitempty" json:"value,omitempty"`
}

// References returns every column name this binding reads, skipping the ID
// literal and empty entries.
func (b ArgumentBinding) References() []string {
	var refs []string
	if b.ColumnReference != "" && b.ColumnReference != IDBinding {
		refs = append(refs, b.ColumnReference)
	}
	for _, ref := range b.ColumnReferences {
		if ref == "" || ref == IDBinding {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// Column is a named, typed slot of a booking record.
type Column struct {
	ID           string            `yaml:"id" json:"id"`
	Name         string            `yaml:"columnName" json:"columnName"`
	DataType     DataType          `yaml:"dataType" json:"dataType"`
	Order        int               `yaml:"order" json:"order"`
	ParentTab    string            `yaml:"parentTab,omitempty" json:"parentTab,omitempty"`
	Function     string            `yaml:"function,omitempty" json:"function,omitempty"`
	Arguments    []ArgumentBinding `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	DefaultValue any               `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
	Options      []string          `yaml:"options,omitempty" json:"options,omitempty"`
}

// IsComputed reports whether the column value is produced by a function.
func (c *Column) IsComputed() bool {
	return c.DataType == DataTypeFunction
}

// Default returns the value shown when the record holds nothing for the column.
// Booleans default to false; everything else to the configured default, if any.
func (c *Column) Default() any {
	if c.DefaultValue != nil {
		return c.DefaultValue
	}
	if c.DataType == DataTypeBoolean {
		return false
	}
	return nil
}

// String returns a short description for logs.
func (c *Column) String() string {
	return fmt.Sprintf("%s(%s:%s)", c.ID, c.Name, c.DataType)
}
