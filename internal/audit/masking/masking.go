package masking

import "strings"

const maskToken = "****"

// MaskSecret redacts a value while keeping its prefix and a short suffix.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskKeys returns a copy of input with the string values of the named keys masked.
func MaskKeys(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}

	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[strings.ToLower(key)] = struct{}{}
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		if _, ok := sensitive[strings.ToLower(key)]; ok {
			if str, isString := value.(string); isString {
				out[key] = MaskSecret(str)
				continue
			}
		}
		out[key] = value
	}
	return out
}

// splitPrefix keeps provider prefixes such as cs_test_ visible.
func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
