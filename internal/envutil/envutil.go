// Package envutil reads and combines KEY=VALUE environment snapshots.
package envutil

import (
	"strings"
)

// Parse converts a KEY=VALUE slice, as returned by os.Environ, into a map.
// Entries without '=' or with an empty key are ignored. When a key appears
// more than once the first occurrence wins, matching os.Getenv.
func Parse(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, e := range env {
		key, value, ok := strings.Cut(e, "=")
		if !ok || key == "" {
			continue
		}
		if _, exists := m[key]; exists {
			continue
		}
		m[key] = value
	}
	return m
}

// Merge returns a new map holding base overlaid with overlay.
// Keys present in overlay take precedence, including empty values.
func Merge(base, overlay map[string]string) map[string]string {
	result := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		result[k] = v
	}
	return result
}

// Variants returns the upper-case and lower-case spellings of name, in
// that order. A name that has a single spelling is returned once.
func Variants(name string) []string {
	upper := strings.ToUpper(name)
	lower := strings.ToLower(name)
	if upper == lower {
		return []string{upper}
	}
	return []string{upper, lower}
}

// LookupFirst returns the first non-empty value among keys, checked in
// order. It reports false if every key is unset or empty.
func LookupFirst(m map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v, true
		}
	}
	return "", false
}

// LookupAnyCase returns the first non-empty value of name, checking the
// upper-case spelling before the lower-case one.
func LookupAnyCase(m map[string]string, name string) (string, bool) {
	return LookupFirst(m, Variants(name)...)
}
