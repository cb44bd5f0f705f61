package auth

import (
	"bytes"
	"encoding/json"
	"strings"
)

// secretMarkers are substrings that mark a field as secret once the key is
// lowercased and stripped of separators. Matching is by substring, so keys
// such as "hashtag" are dropped too.
var secretMarkers = []string{"password", "passwd", "secret", "hash", "salt", "apikey", "privatekey"}

// Sanitize returns the JSON view of v with every secret-like field removed at
// any depth. It works on any value that encodes to JSON. Numbers are kept as
// json.Number so integer ids survive unchanged.
func Sanitize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return strip(generic), nil
}

func strip(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for key, inner := range val {
			if isSecretKey(key) {
				delete(val, key)
				continue
			}
			val[key] = strip(inner)
		}
		return val
	case []interface{}:
		for i := range val {
			val[i] = strip(val[i])
		}
		return val
	default:
		return v
	}
}

func isSecretKey(key string) bool {
	normalized := strings.NewReplacer("_", "", "-", "", ".", "").Replace(strings.ToLower(key))
	for _, marker := range secretMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}
