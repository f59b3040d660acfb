package config

import (
	"sort"
	"strings"
)

// IsSecretKey reports whether a dotted key holds a credential: any
// *.api_key or *.token entry.
func IsSecretKey(key string) bool {
	leaf := key[strings.LastIndex(key, ".")+1:]
	return leaf == "api_key" || leaf == "token"
}

// Flatten turns nested JSON objects into dotted keys, so
// {"tts": {"voice": "en-US-Wavenet-D"}} becomes {"tts.voice": "en-US-Wavenet-D"}.
// Arrays are leaf values.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	walk("", m, func(key string, v any) { out[key] = v })
	return out
}

func walk(prefix string, m map[string]any, visit func(string, any)) {
	for k, v := range m {
		if prefix != "" {
			k = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			walk(k, child, visit)
			continue
		}
		visit(k, v)
	}
}

// Unflatten is the inverse of Flatten. A scalar sitting where a nested key
// needs an object is replaced by that object.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setPath(out, strings.Split(k, "."), v)
	}
	return out
}

func setPath(m map[string]any, path []string, v any) {
	for _, part := range path[:len(path)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[part] = child
		}
		m = child
	}
	m[path[len(path)-1]] = v
}

// MaskSecrets returns a copy of flat with every non-empty secret reduced to
// "***" plus its last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			v = "***" + s[max(0, len(s)-4):]
		}
		out[k] = v
	}
	return out
}

// SortedKeys returns the keys of flat in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
