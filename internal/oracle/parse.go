package oracle

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/pkg/anthropic"
)

// rawDecomposition accepts the shapes models commonly return: "units" or
// "signatures" for the unit list, "field_names" or "fields" for the owned
// fields, and "stages" or "pipeline" for an optional stage plan. "fields"
// may also be an object keyed by field name.
type rawDecomposition struct {
	ReasoningTrace string                `json:"reasoning_trace"`
	Units          []rawUnit             `json:"units"`
	Signatures     []rawUnit             `json:"signatures"`
	Stages         []model.PipelineStage `json:"stages"`
	Pipeline       []model.PipelineStage `json:"pipeline"`
}

type rawUnit struct {
	Name       string          `json:"name"`
	FieldNames []string        `json:"field_names"`
	Fields     json.RawMessage `json:"fields"`
	DependsOn  []string        `json:"depends_on"`
}

// parseDecomposition extracts the decomposition from a model reply. Field
// lists are kept exactly as returned; checking them is the validator's job.
func parseDecomposition(text string) (*model.Decomposition, error) {
	cleaned := anthropic.ExtractJSON(text)
	if cleaned == "" {
		return nil, eris.New("oracle: empty response")
	}

	var raw rawDecomposition
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "oracle: decode decomposition")
	}

	units := raw.Units
	if len(units) == 0 {
		units = raw.Signatures
	}
	stages := raw.Stages
	if len(stages) == 0 {
		stages = raw.Pipeline
	}

	d := &model.Decomposition{
		ReasoningTrace: strings.TrimSpace(raw.ReasoningTrace),
		Stages:         stages,
		Units:          make([]model.ExtractionUnit, 0, len(units)),
	}
	for _, u := range units {
		fields := u.FieldNames
		if len(fields) == 0 {
			var err error
			if fields, err = fieldList(u.Fields); err != nil {
				return nil, eris.Wrapf(err, "oracle: fields of unit %q", u.Name)
			}
		}
		d.Units = append(d.Units, model.ExtractionUnit{
			Name:       strings.TrimSpace(u.Name),
			FieldNames: fields,
			DependsOn:  u.DependsOn,
		})
	}
	return d, nil
}

// fieldList reads a "fields" member given either as a list of names or as
// an object keyed by name. Object keys keep their document order.
func fieldList(msg json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var names []string
		if err := json.Unmarshal(trimmed, &names); err != nil {
			return nil, eris.Wrap(err, "decode field list")
		}
		return names, nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		if _, err := dec.Token(); err != nil {
			return nil, eris.Wrap(err, "decode field object")
		}
		var names []string
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, eris.Wrap(err, "decode field object")
			}
			key, _ := tok.(string)
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, eris.Wrapf(err, "decode field %q", key)
			}
			names = append(names, key)
		}
		return names, nil
	default:
		return nil, eris.Errorf("fields must be a list or an object, got %s", trimmed)
	}
}
