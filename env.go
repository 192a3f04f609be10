package proxyenv

import (
	"net/url"
	"strings"

	"github.com/zhangyunhao116/proxyenv/internal/envutil"
)

// Environment variable names consulted by the resolver. Both the upper-case
// and lower-case spellings are recognized; the upper-case one is checked first.
const (
	EnvHTTPSProxy = "HTTPS_PROXY"
	EnvHTTPProxy  = "HTTP_PROXY"
	EnvNoProxy    = "NO_PROXY"
)

// Env is a read-only snapshot of environment variables. Resolution functions
// take an Env instead of reading the process environment, so a snapshot can
// be shared by concurrent resolutions and swapped freely in tests.
//
// A nil Env means the environment could not be resolved at all. Lookups on
// it find nothing, and Factory.CreateAgent treats it as "no proxy".
type Env map[string]string

// EnvFromList builds an Env from KEY=VALUE strings, as returned by
// os.Environ. The first occurrence of a duplicated key wins.
func EnvFromList(list []string) Env {
	return Env(envutil.Parse(list))
}

// ProcessEnv returns a snapshot of the current process environment.
// Later changes to the process environment are not reflected in it; take a
// new snapshot per request to pick them up.
func ProcessEnv() Env {
	return EnvFromList(envutil.Environ())
}

// Lookup returns the first non-empty value of name, trying the upper-case
// spelling before the lower-case one.
func (e Env) Lookup(name string) (string, bool) {
	return envutil.LookupAnyCase(e, name)
}

// With returns a copy of e with overlay applied on top. Overlay values win,
// including empty ones, which lets a caller blank out an inherited variable.
func (e Env) With(overlay map[string]string) Env {
	return Env(envutil.Merge(e, overlay))
}

// FromEnvironment returns the proxy URL the environment selects for
// targetURL, or "" when no proxy applies.
//
// The NO_PROXY bypass list is checked before any protocol lookup and
// short-circuits it. For https targets HTTPS_PROXY is preferred and
// HTTP_PROXY is the fallback; http targets consult only HTTP_PROXY. Other
// schemes never use a proxy. A targetURL that does not parse yields an
// error wrapping ErrInvalidURL.
func FromEnvironment(env Env, targetURL string) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", &URLError{Op: "resolve", URL: targetURL, Kind: ErrInvalidURL, Err: err}
	}

	if ShouldBypass(env, u.Hostname()) {
		return "", nil
	}

	var keys []string
	switch strings.ToLower(u.Scheme) {
	case "https":
		keys = append(envutil.Variants(EnvHTTPSProxy), envutil.Variants(EnvHTTPProxy)...)
	case "http":
		keys = envutil.Variants(EnvHTTPProxy)
	default:
		return "", nil
	}

	v, _ := envutil.LookupFirst(env, keys...)
	return v, nil
}
