package oracle

import (
	"fmt"
	"strings"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/workflow"
)

const systemPrompt = `You design extraction pipelines for structured forms filled from long documents.

Group the form's fields into extraction units. A unit is one cognitive concern: fields that are read from the same part of the document, or that are computed from each other, belong together. Keep units small enough to run independently.

Rules:
- Every field of the form must appear in exactly one unit.
- Use only field names from the form, spelled exactly as given.
- A unit may depend on fields produced by other units. List those field names in "depends_on". Never depend on a field of the same unit.
- Dependencies must not form a cycle.
- Unit names must be unique PascalCase identifiers.

Respond with a single JSON object and nothing else:
{
  "reasoning_trace": "<why the fields are grouped this way>",
  "units": [
    {"name": "<UnitName>", "field_names": ["<field>", ...], "depends_on": ["<field of another unit>", ...]}
  ]
}`

// buildFormContext renders the form. It is sent as a cached system block so
// retries of the same session reuse it.
func buildFormContext(form model.Form) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Form: %s\n", form.Name)
	if form.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", form.Description)
	}
	fmt.Fprintf(&b, "\nFields (%d):\n", len(form.Fields))
	for _, f := range form.Fields {
		writeField(&b, f, "- ")
	}
	return b.String()
}

// buildUserPrompt asks for a decomposition, passing on the feedback of the
// previous attempt when there is one.
func buildUserPrompt(req workflow.OracleRequest) string {
	var b strings.Builder
	if req.Feedback != "" {
		fmt.Fprintf(&b, "Your previous decomposition was rejected. Address every point below:\n%s\n\n", req.Feedback)
	}
	b.WriteString("Decompose the form above. Return the JSON object now.")
	return b.String()
}

func writeField(b *strings.Builder, f model.Field, indent string) {
	fmt.Fprintf(b, "%s%s (%s)", indent, f.Name, f.DataType)
	if f.Description != "" {
		fmt.Fprintf(b, ": %s", f.Description)
	}
	if len(f.Options) > 0 {
		fmt.Fprintf(b, " [options: %s]", strings.Join(f.Options, ", "))
	}
	if f.ExtractionHints != "" {
		fmt.Fprintf(b, " hint: %s", f.ExtractionHints)
	}
	b.WriteByte('\n')
	for _, nf := range f.NestedFields {
		writeField(b, nf, "  "+indent)
	}
}
