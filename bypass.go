package proxyenv

import (
	"strings"
)

// ShouldBypass reports whether hostname is exempted from proxying by the
// NO_PROXY (or no_proxy) variable of env.
//
// The variable is a comma-separated list of patterns. Whitespace around
// entries is trimmed, empty entries are dropped, and both hostname and
// patterns are compared case-insensitively. Patterns are tried in list
// order and the first match wins. For each pattern the rules are:
//  1. The pattern equals the hostname.
//  2. The pattern starts with '*': with the '*' and one following '.'
//     removed, the rest is a plain string suffix of the hostname. So
//     "*.example.com" matches "api.example.com", "example.com" and also
//     "myexample.com". A lone "*" matches every host.
//  3. The pattern starts with '.': the hostname ends with the pattern.
//  4. Otherwise the hostname ends with "." + pattern.
//
// The list is parsed on every call; nothing is cached between calls.
func ShouldBypass(env Env, hostname string) bool {
	noProxy, ok := env.Lookup(EnvNoProxy)
	if !ok {
		return false
	}

	hostname = strings.ToLower(hostname)
	for _, pattern := range bypassPatterns(noProxy) {
		if matchesBypass(hostname, pattern) {
			return true
		}
	}
	return false
}

// bypassPatterns splits a NO_PROXY value into lower-cased, non-empty patterns.
func bypassPatterns(value string) []string {
	fields := strings.Split(value, ",")
	patterns := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		patterns = append(patterns, strings.ToLower(f))
	}
	return patterns
}

// matchesBypass checks a lower-cased hostname against one lower-cased
// NO_PROXY pattern.
func matchesBypass(hostname, pattern string) bool {
	if hostname == pattern {
		return true
	}

	switch {
	case strings.HasPrefix(pattern, "*"):
		// Plain suffix comparison: the bare domain and unrelated hosts
		// sharing the suffix both match.
		suffix := strings.TrimPrefix(pattern[1:], ".")
		return strings.HasSuffix(hostname, suffix)
	case strings.HasPrefix(pattern, "."):
		return strings.HasSuffix(hostname, pattern)
	default:
		return strings.HasSuffix(hostname, "."+pattern)
	}
}
