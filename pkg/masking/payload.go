package masking

import (
	"encoding/json"
	"strings"
)

// MaskedValue replaces sensitive values in events, logs and payloads.
const MaskedValue = "***masked***"

// sensitiveKeys are field names whose values are always masked, matched
// case-insensitively and exactly.
var sensitiveKeys = map[string]bool{
	"token":          true,
	"authorization":  true,
	"password":       true,
	"secret":         true,
	"webhook_secret": true,
	"api_key":        true,
}

// IsSensitiveKey reports whether a field name carries a credential.
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

// MaskMap returns a copy of data with sensitive keys replaced by MaskedValue,
// descending through nested maps and lists. The input is never mutated.
func MaskMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	masked := make(map[string]any, len(data))
	for k, v := range data {
		if IsSensitiveKey(k) {
			masked[k] = MaskedValue
			continue
		}
		masked[k] = maskValue(v)
	}
	return masked
}

func maskValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return MaskMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = maskValue(item)
		}
		return out
	default:
		return v
	}
}

// JSONCredentialMasker masks credential fields inside raw JSON payloads,
// such as webhook bodies captured in error events. Non-JSON data passes
// through untouched.
type JSONCredentialMasker struct{}

// Name returns the unique identifier for this masker.
func (m *JSONCredentialMasker) Name() string { return "json_credentials" }

// AppliesTo performs a lightweight check on whether this masker should process the data.
func (m *JSONCredentialMasker) AppliesTo(data string) bool {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	lower := strings.ToLower(data)
	for key := range sensitiveKeys {
		if strings.Contains(lower, `"`+key+`"`) {
			return true
		}
	}
	return false
}

// Mask parses the payload as JSON and masks sensitive keys.
// Returns original data on parse/processing errors (defensive).
func (m *JSONCredentialMasker) Mask(data string) string {
	var obj any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return data
	}

	out, err := json.Marshal(maskValue(obj))
	if err != nil {
		return data
	}

	result := string(out)
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result
}
