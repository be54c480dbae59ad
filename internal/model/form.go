// Package model holds the domain types shared by the planner, the workflow,
// the runtime, and the stores.
package model

// DataType names the kind of value a field expects.
type DataType string

const (
	DataTypeText    DataType = "text"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeEnum    DataType = "enum"
	DataTypeList    DataType = "list"
	DataTypeDate    DataType = "date"
	DataTypeObject  DataType = "object"
)

// Field is one entry of a form. Its name is its identity within the form.
type Field struct {
	Name            string   `json:"name" yaml:"name"`
	DataType        DataType `json:"data_type" yaml:"data_type"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Options         []string `json:"options,omitempty" yaml:"options,omitempty"`
	ExtractionHints string   `json:"extraction_hints,omitempty" yaml:"extraction_hints,omitempty"`
	NestedFields    []Field  `json:"nested_fields,omitempty" yaml:"nested_fields,omitempty"`
}

// Form is the declarative list of fields to extract from a document.
type Form struct {
	// ID is an optional caller-assigned identity that stays fixed across
	// renames and field edits. Plans for forms with the same ID share a task.
	ID          string  `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// FieldNames returns the top-level field names in declaration order.
func (f Form) FieldNames() []string {
	names := make([]string, 0, len(f.Fields))
	for _, fd := range f.Fields {
		names = append(names, fd.Name)
	}
	return names
}

// FieldSet returns the top-level field names as a set.
func (f Form) FieldSet() map[string]bool {
	set := make(map[string]bool, len(f.Fields))
	for _, fd := range f.Fields {
		set[fd.Name] = true
	}
	return set
}

// FieldByName returns the field with the given name.
func (f Form) FieldByName(name string) (Field, bool) {
	for _, fd := range f.Fields {
		if fd.Name == name {
			return fd, true
		}
	}
	return Field{}, false
}
