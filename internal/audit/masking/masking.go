// Package masking redacts customer contact details before document states
// are copied into audit entries.
package masking

import (
	"encoding/json"
	"strings"
)

const maskToken = "****"

// sensitiveKeys are matched case-insensitively against JSON object keys.
var sensitiveKeys = map[string]struct{}{
	"phone":          {},
	"customer_phone": {},
}

// MaskPhone keeps the last four digits of a phone number.
func MaskPhone(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskJSON returns raw with every sensitive string value masked. Input that
// is not a JSON object or array is returned unchanged.
func MaskJSON(raw []byte) ([]byte, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	switch decoded.(type) {
	case map[string]any, []any:
	default:
		return raw, nil
	}
	return json.Marshal(maskValue("", decoded))
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
			return MaskPhone(cast)
		}
		return cast
	case map[string]any:
		out := make(map[string]any, len(cast))
		for k, v := range cast {
			out[k] = maskValue(k, v)
		}
		return out
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}
