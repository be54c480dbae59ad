package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/formflow/internal/model"
)

const trialFormYAML = `
name: Clinical Trial
description: Randomised controlled trial summary
fields:
  - name: Study Design
    data_type: enum
    options: [RCT, cohort, case-control]
  - name: Sample Size
    data_type: number
    extraction_hints: Total randomised participants
  - name: Female (%)
    data_type: number
  - name: Primary Outcome
  - name: Baseline
    data_type: object
    nested_fields:
      - name: Mean Age
        data_type: number
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFormFromFile_YAML(t *testing.T) {
	form, err := LoadFormFromFile(writeFile(t, "trial.yaml", trialFormYAML))
	require.NoError(t, err)

	assert.Equal(t, "Clinical Trial", form.Name)
	assert.Equal(t, []string{"study_design", "sample_size", "female_percent", "primary_outcome", "baseline"}, form.FieldNames())

	design, ok := form.FieldByName("study_design")
	require.True(t, ok)
	assert.Equal(t, model.DataTypeEnum, design.DataType)
	assert.Equal(t, []string{"RCT", "cohort", "case-control"}, design.Options)

	outcome, _ := form.FieldByName("primary_outcome")
	assert.Equal(t, model.DataTypeText, outcome.DataType, "missing type defaults to text")

	baseline, _ := form.FieldByName("baseline")
	require.Len(t, baseline.NestedFields, 1)
	assert.Equal(t, "mean_age", baseline.NestedFields[0].Name)
}

func TestLoadFormFromFile_JSON(t *testing.T) {
	path := writeFile(t, "form.json", `{
		"name": "Minimal",
		"fields": [
			{"name": "title", "data_type": "text"},
			{"name": "year", "data_type": "NUMBER"}
		]
	}`)

	form, err := LoadFormFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "year"}, form.FieldNames())
	year, _ := form.FieldByName("year")
	assert.Equal(t, model.DataTypeNumber, year.DataType)
}

func TestLoadFormFromFile_Missing(t *testing.T) {
	_, err := LoadFormFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: read form file")
}

func TestLoadFormFromFile_Malformed(t *testing.T) {
	_, err := LoadFormFromFile(writeFile(t, "bad.yaml", "fields: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: unmarshal form")
}

func TestParseForm_EmptyFormIsValid(t *testing.T) {
	form, err := ParseForm([]byte("name: Empty\nfields: []\n"))
	require.NoError(t, err)
	assert.Empty(t, form.Fields)
}

func TestValidateForm(t *testing.T) {
	tests := []struct {
		name    string
		form    *model.Form
		wantErr []string
	}{
		{
			name: "valid",
			form: &model.Form{Name: "ok", Fields: []model.Field{
				{Name: "a", DataType: model.DataTypeText},
				{Name: "b", DataType: model.DataTypeEnum, Options: []string{"x"}},
			}},
		},
		{
			name: "duplicate after sanitising",
			form: &model.Form{Name: "dup", Fields: []model.Field{
				{Name: "a", DataType: model.DataTypeText},
				{Name: "a", DataType: model.DataTypeNumber},
			}},
			wantErr: []string{`field "a" is declared more than once`},
		},
		{
			name: "every problem reported",
			form: &model.Form{Name: "bad", Fields: []model.Field{
				{Name: "", DataType: model.DataTypeText},
				{Name: "status", DataType: model.DataTypeEnum},
				{Name: "when", DataType: "timestamp"},
				{Name: "meta", DataType: model.DataTypeObject},
				{Name: "group", DataType: model.DataTypeObject, NestedFields: []model.Field{
					{Name: "n", DataType: model.DataTypeNumber},
					{Name: "n", DataType: model.DataTypeNumber},
				}},
			}},
			wantErr: []string{
				"field #0 has no name",
				`enum field "status" has no options`,
				`field "when" has unknown data type "timestamp"`,
				`object field "meta" has no nested fields`,
				`field "group.n" is declared more than once`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateForm(tt.form)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestValidateForm_Nil(t *testing.T) {
	assert.Error(t, ValidateForm(nil))
}
