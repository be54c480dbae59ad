package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/workflow"
)

func TestBuildFormContext(t *testing.T) {
	form := model.Form{
		Name:        "Clinical Trial",
		Description: "RCT summary",
		Fields: []model.Field{
			{Name: "study_design", DataType: model.DataTypeEnum, Options: []string{"RCT", "cohort"}, Description: "Design"},
			{Name: "baseline", DataType: model.DataTypeObject, NestedFields: []model.Field{
				{Name: "mean_age", DataType: model.DataTypeNumber, ExtractionHints: "years"},
			}},
		},
	}

	got := buildFormContext(form)
	assert.Contains(t, got, "Form: Clinical Trial\n")
	assert.Contains(t, got, "Description: RCT summary\n")
	assert.Contains(t, got, "Fields (2):\n")
	assert.Contains(t, got, "- study_design (enum): Design [options: RCT, cohort]\n")
	assert.Contains(t, got, "  - mean_age (number) hint: years\n")
}

func TestBuildUserPrompt(t *testing.T) {
	plain := buildUserPrompt(workflow.OracleRequest{Attempt: 1})
	assert.Equal(t, "Decompose the form above. Return the JSON object now.", plain)

	withFeedback := buildUserPrompt(workflow.OracleRequest{Attempt: 2, Feedback: "Cycle detected: U1 -> U2 -> U1"})
	assert.Contains(t, withFeedback, "previous decomposition was rejected")
	assert.Contains(t, withFeedback, "Cycle detected: U1 -> U2 -> U1\n\n")
}
