// Package registry loads form definitions from files and from a Notion
// database and checks them before they reach the workflow.
package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/formflow/internal/model"
)

// LoadFormFromFile reads a form from a YAML or JSON file, normalises its
// field keys, and validates it.
func LoadFormFromFile(path string) (*model.Form, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read form file")
	}

	form, err := ParseForm(data)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", path)
	}
	return form, nil
}

// ParseForm decodes a YAML or JSON form definition.
func ParseForm(data []byte) (*model.Form, error) {
	var form model.Form
	if err := yaml.Unmarshal(data, &form); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal form")
	}
	NormalizeForm(&form)
	if err := ValidateForm(&form); err != nil {
		return nil, err
	}
	return &form, nil
}

// NormalizeForm sanitises field keys and defaults missing data types to text.
func NormalizeForm(form *model.Form) {
	normalizeFields(form.Fields)
}

func normalizeFields(fields []model.Field) {
	for i := range fields {
		f := &fields[i]
		f.Name = SanitizeFieldKey(f.Name)
		f.DataType = model.DataType(strings.ToLower(strings.TrimSpace(string(f.DataType))))
		if f.DataType == "" {
			f.DataType = model.DataTypeText
		}
		normalizeFields(f.NestedFields)
	}
}

var knownTypes = map[model.DataType]bool{
	model.DataTypeText:    true,
	model.DataTypeNumber:  true,
	model.DataTypeBoolean: true,
	model.DataTypeEnum:    true,
	model.DataTypeList:    true,
	model.DataTypeDate:    true,
	model.DataTypeObject:  true,
}

// ValidateForm reports every structural problem of a form at once: empty or
// duplicate field names, unknown data types, enums without options, and
// objects without nested fields. An empty form is valid.
func ValidateForm(form *model.Form) error {
	if form == nil {
		return eris.New("registry: form is nil")
	}
	var problems []string
	checkFields("", form.Fields, &problems)
	if len(problems) > 0 {
		return eris.Errorf("registry: invalid form %q: %s", form.Name, strings.Join(problems, "; "))
	}
	return nil
}

func checkFields(prefix string, fields []model.Field, problems *[]string) {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		name := prefix + f.Name
		if f.Name == "" {
			*problems = append(*problems, fmt.Sprintf("field %s#%d has no name", prefix, i))
			continue
		}
		if seen[f.Name] {
			*problems = append(*problems, fmt.Sprintf("field %q is declared more than once", name))
		}
		seen[f.Name] = true

		if !knownTypes[f.DataType] {
			*problems = append(*problems, fmt.Sprintf("field %q has unknown data type %q", name, f.DataType))
		}
		if f.DataType == model.DataTypeEnum && len(f.Options) == 0 {
			*problems = append(*problems, fmt.Sprintf("enum field %q has no options", name))
		}
		if f.DataType == model.DataTypeObject && len(f.NestedFields) == 0 {
			*problems = append(*problems, fmt.Sprintf("object field %q has no nested fields", name))
		}
		checkFields(name+".", f.NestedFields, problems)
	}
}
