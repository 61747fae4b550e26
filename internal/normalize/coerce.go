package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
)

// pick returns the first present, non-nil value among the given key
// spellings. Upstream payloads mix camelCase, snake_case and abbreviations
// across API versions, so every canonical field probes an ordered alias list.
func pick(raw map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// asFloat coerces numeric and stringified-numeric values. Anything else is
// treated as absent, never as an error.
func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asString coerces string and numeric values to a trimmed string.
func asString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// asStringSlice decodes a field that should be a list of strings but may
// arrive as a native array or as a JSON-encoded string. A string payload is
// only attempted when it looks like an array; a parse failure yields nil.
func asStringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := asString(e); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "[") {
			return nil
		}
		var decoded []string
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil
		}
		return decoded
	default:
		return nil
	}
}
