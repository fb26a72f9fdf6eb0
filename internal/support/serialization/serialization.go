// Package serialization provides helpers for rendering configuration and
// credential-bearing maps in logs without leaking secrets.
package serialization

import (
	"encoding/json"
	"strings"
)

// maskValue is the replacement string for masked values.
const maskValue = "********"

// maskedKeys is the set of key substrings whose values are masked when a
// parameter map is rendered. It can be extended from configuration via
// SetMaskedKeys.
var maskedKeys = []string{"password", "secret", "token", "api_key"}

// SetMaskedKeys replaces the list of key substrings to mask.
// An empty list keeps the defaults.
func SetMaskedKeys(keys []string) {
	if len(keys) == 0 {
		return
	}
	maskedKeys = keys
}

// IsMaskedKey reports whether values stored under the given key should be
// masked in any logged representation.
func IsMaskedKey(key string) bool {
	lower := strings.ToLower(key)
	for _, masked := range maskedKeys {
		if strings.Contains(lower, strings.ToLower(masked)) {
			return true
		}
	}
	return false
}

// GetMaskedMap returns a copy of params with sensitive values replaced.
// A nil input yields an empty map.
func GetMaskedMap(params map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		if IsMaskedKey(k) {
			masked[k] = maskValue
		} else {
			masked[k] = v
		}
	}
	return masked
}

// MarshalMasked marshals params to JSON with sensitive values replaced.
func MarshalMasked(params map[string]interface{}) ([]byte, error) {
	return json.Marshal(GetMaskedMap(params))
}
