package extractor

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/pkg/anthropic"
)

// parseValues decodes a reply keyed by field name. Each entry may be a
// {"value", "provenance"} object or a bare value. An empty string or null
// value becomes the not-reported sentinel.
func parseValues(text string) (map[string]model.FieldValue, error) {
	cleaned := anthropic.ExtractJSON(text)
	if cleaned == "" {
		return nil, eris.New("extractor: no JSON object in response")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "extractor: decode response")
	}

	out := make(map[string]model.FieldValue, len(raw))
	for name, msg := range raw {
		fv, err := decodeValue(msg)
		if err != nil {
			return nil, eris.Wrapf(err, "extractor: decode field %q", name)
		}
		out[name] = fv
	}
	return out, nil
}

// decodeValue unwraps {"value": ..., "provenance": ...} envelopes. An
// object with any other key is a field value in its own right, such as an
// object-typed field that happens to have a "value" member.
func decodeValue(msg json.RawMessage) (model.FieldValue, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(msg, &obj); err == nil && isEnvelope(obj) {
		v, err := decodeBare(obj["value"])
		if err != nil {
			return model.FieldValue{}, err
		}
		return model.FieldValue{Value: v, Provenance: provenanceText(obj["provenance"])}, nil
	}
	v, err := decodeBare(msg)
	return model.FieldValue{Value: v}, err
}

func isEnvelope(obj map[string]json.RawMessage) bool {
	if _, ok := obj["value"]; !ok {
		return false
	}
	for k := range obj {
		if k != "value" && k != "provenance" {
			return false
		}
	}
	return true
}

// provenanceText keeps provenance that is not a JSON string, such as a
// page number or a list of quotes, as its compact JSON text.
func provenanceText(msg json.RawMessage) string {
	if len(msg) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, msg); err != nil {
		return string(msg)
	}
	return buf.String()
}

func decodeBare(msg json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(msg, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return model.NotReported, nil
	}
	if s, ok := v.(string); ok && s == "" {
		return model.NotReported, nil
	}
	return v, nil
}
