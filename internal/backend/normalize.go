package backend

import (
	"fmt"

	"github.com/verdictlabs/verdict/model"
)

// canonicalFieldByShape pins the per-shape source field for each canonical
// detail field. Normalization is an explicit mapping per shape; it never
// guesses between alternate field names.
var canonicalFieldByShape = map[model.ResponseShape]map[string]string{
	model.ShapeEnvelopeV2: {
		"employeeId":   "employee_id",
		"employeeName": "employee_name",
		"submittedAt":  "submitted_at",
	},
	model.ShapeLegacyV1: {
		"employeeId":   "emp_id",
		"employeeName": "emp_name",
		"submittedAt":  "created_date",
	},
}

// NormalizeDetail converts a raw backend detail payload into the canonical
// shape served to clients. envelope_v2 responses carry the payload under a
// "result" key; legacy_v1 responses are flat.
func NormalizeDetail(shape model.ResponseShape, raw map[string]any) (map[string]any, error) {
	var payload map[string]any

	switch shape {
	case model.ShapeEnvelopeV2:
		inner, ok := raw["result"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("backend: envelope_v2 response missing result object")
		}
		payload = inner
	case model.ShapeLegacyV1:
		payload = raw
	default:
		return nil, fmt.Errorf("backend: unknown response shape %q", shape)
	}

	mapping := canonicalFieldByShape[shape]
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for canonical, source := range mapping {
		if v, ok := payload[source]; ok {
			out[canonical] = v
			if source != canonical {
				delete(out, source)
			}
		}
	}

	return out, nil
}
