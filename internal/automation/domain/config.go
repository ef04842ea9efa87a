package domain

import "encoding/json"

// NormalizeConfig resolves a job's raw config column into the mapping that
// dispatch handlers receive. The column content varies historically: a JSON
// object, a JSON array, a string wrapping either, or garbage. Unparseable or
// non-object input degrades to an empty mapping rather than failing the run;
// arrays are wrapped under a "values" key.
func NormalizeConfig(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}

	return normalizeValue(v, true)
}

func normalizeValue(v any, unwrapString bool) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		return map[string]any{"values": t}
	case string:
		// A string column may itself hold serialized JSON. One level of
		// unwrapping only; a string inside a string is garbage.
		if !unwrapString {
			return map[string]any{}
		}
		var inner any
		if err := json.Unmarshal([]byte(t), &inner); err != nil {
			return map[string]any{}
		}
		return normalizeValue(inner, false)
	default:
		return map[string]any{}
	}
}
