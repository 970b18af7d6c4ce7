package taiga

import (
	"encoding/json"
	"math"
	"sort"
)

// --- Structural schema inference ---

// BuildSchema computes a JSON-schema-like descriptor of a decoded value:
// property names and types only, no values. Oversized tool results are
// replaced with this descriptor plus a pointer message, so the model can
// decide what to query from the execution log instead of reading the full
// payload inline.
func BuildSchema(value any) map[string]any {
	switch v := value.(type) {
	case nil:
		return map[string]any{"type": "null"}
	case bool:
		return map[string]any{"type": "boolean"}
	case string:
		return map[string]any{"type": "string"}
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return map[string]any{"type": "integer"}
		}
		return map[string]any{"type": "number"}
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return map[string]any{"type": "integer"}
		}
		return map[string]any{"type": "number"}
	case map[string]any:
		properties := make(map[string]any, len(v))
		required := make([]string, 0, len(v))
		for key, val := range v {
			properties[key] = BuildSchema(val)
			required = append(required, key)
		}
		sort.Strings(required)
		return map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		}
	case []any:
		return map[string]any{
			"type":  "array",
			"items": mergeItemSchemas(v),
		}
	default:
		return map[string]any{"type": "string"}
	}
}

// mergeItemSchemas folds the schemas of all array elements together.
// Homogeneous arrays collapse to a single item schema; mixed arrays keep
// the distinct alternatives under anyOf, in first-seen order.
func mergeItemSchemas(items []any) any {
	var distinct []map[string]any
	seen := make(map[string]bool)
	for _, item := range items {
		s := BuildSchema(item)
		key := canonicalSchema(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		distinct = append(distinct, s)
	}
	switch len(distinct) {
	case 0:
		return map[string]any{}
	case 1:
		return distinct[0]
	default:
		alternatives := make([]any, len(distinct))
		for i, s := range distinct {
			alternatives[i] = s
		}
		return map[string]any{"anyOf": alternatives}
	}
}

// canonicalSchema renders a schema as deterministic JSON for deduplication.
// encoding/json sorts map keys, so equal schemas always render identically.
func canonicalSchema(s map[string]any) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}
