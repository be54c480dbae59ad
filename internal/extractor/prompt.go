package extractor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/runtime"
)

const systemPrompt = `You extract structured data from documents. The full document follows this instruction.

Rules:
- Answer only from the document. Never guess.
- Use the exact string "NR" as the value of any field that is not reported or cannot be determined.
- For enum fields, answer with one of the listed options or "NR".
- For number fields, answer with a bare number (no units) or "NR".
- For each value, give a short provenance: where in the document it was found (section, table, or a brief quote).

Respond with a single JSON object and nothing else, keyed by field name:
{"<field>": {"value": <value>, "provenance": "<where it was found>"}}`

const primerPrompt = "Reply with the single word OK."

func documentBlock(doc model.Document) string {
	var b strings.Builder
	b.WriteString("<document")
	if doc.ID != "" {
		fmt.Fprintf(&b, " id=%q", doc.ID)
	}
	b.WriteString(">\n")
	if len(doc.Metadata) > 0 {
		keys := make([]string, 0, len(doc.Metadata))
		for k := range doc.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, doc.Metadata[k])
		}
		b.WriteString("\n")
	}
	b.WriteString(doc.Content)
	b.WriteString("\n</document>")
	return b.String()
}

// buildUnitPrompt describes the unit's fields and the values it depends on.
func buildUnitPrompt(req runtime.UnitRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract the following %d field(s) for %s:\n\n", len(req.Unit.Fields), req.Unit.ClassName)
	for _, f := range req.Unit.Fields {
		writeField(&b, f, "")
	}

	if len(req.Inputs) > 0 {
		b.WriteString("\nValues already extracted from this document that these fields depend on:\n")
		names := make([]string, 0, len(req.Inputs))
		for name := range req.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v, _ := json.Marshal(req.Inputs[name].Value)
			fmt.Fprintf(&b, "- %s = %s\n", name, v)
		}
	}

	b.WriteString("\nReturn the JSON object now.")
	return b.String()
}

func writeField(b *strings.Builder, f model.Field, indent string) {
	fmt.Fprintf(b, "%s- %s (%s)", indent, f.Name, f.DataType)
	if f.Description != "" {
		fmt.Fprintf(b, ": %s", f.Description)
	}
	if len(f.Options) > 0 {
		fmt.Fprintf(b, " [options: %s]", strings.Join(f.Options, ", "))
	}
	if f.ExtractionHints != "" {
		fmt.Fprintf(b, " hint: %s", f.ExtractionHints)
	}
	b.WriteString("\n")
	for _, n := range f.NestedFields {
		writeField(b, n, indent+"  ")
	}
}
