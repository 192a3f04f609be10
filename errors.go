package proxyenv

import (
	"errors"
	"net/url"
	"strings"
)

// Sentinel errors returned by the proxyenv package.
var (
	// ErrInvalidURL indicates the target URL of a request could not be parsed.
	ErrInvalidURL = errors.New("proxyenv: invalid target URL")

	// ErrInvalidProxyURL indicates a proxy URL or structured proxy
	// configuration is malformed and no agent can be built from it.
	ErrInvalidProxyURL = errors.New("proxyenv: invalid proxy URL")

	// ErrCapabilityUnavailable indicates the host transport stack cannot
	// provide proxying. The Factory absorbs it and proceeds without a proxy.
	ErrCapabilityUnavailable = errors.New("proxyenv: proxy capability unavailable")

	// ErrConfigInvalid indicates a proxy directive or configuration file
	// failed validation.
	ErrConfigInvalid = errors.New("proxyenv: invalid configuration")
)

// URLError records a URL that could not be used and why.
// It wraps both its Kind sentinel and the underlying cause, so
// errors.Is(err, ErrInvalidURL) and errors.As(err, &*url.Error) both work.
type URLError struct {
	// Op is the operation that rejected the URL, e.g. "resolve" or "agent".
	Op string
	// URL is the offending URL as supplied by the caller.
	URL string
	// Kind is ErrInvalidURL or ErrInvalidProxyURL.
	Kind error
	// Err is the underlying cause. It may be nil.
	Err error
}

func (e *URLError) Error() string {
	msg := e.Kind.Error() + ": " + e.Op + " " + quoteRedacted(e.URL)
	if e.Err != nil {
		msg += ": " + redactErr(e.Err, e.URL)
	}
	return msg
}

func (e *URLError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// quoteRedacted quotes raw for an error message with any password removed.
func quoteRedacted(raw string) string {
	return `"` + Redact(raw) + `"`
}

// redactErr renders err without leaking the credentials of raw. A
// *url.Error embeds the full input URL in its message.
func redactErr(err error, raw string) string {
	var ue *url.Error
	if errors.As(err, &ue) && ue.URL == raw {
		return ue.Op + " " + quoteRedacted(ue.URL) + ": " + ue.Err.Error()
	}
	return err.Error()
}

// Redact returns raw with the password of its userinfo replaced by "xxxxx".
// Strings that do not parse as hierarchical URLs, such as
// "user:pass@host:port" without a scheme, are returned with everything up
// to the last '@' removed when they appear to carry credentials.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.Opaque == "" && u.Host != "" {
		return u.Redacted()
	}
	return redactUserinfo(raw)
}

// redactUserinfo masks everything between the scheme separator and the
// last '@' of raw.
func redactUserinfo(raw string) string {
	if i := strings.LastIndexByte(raw, '@'); i >= 0 {
		scheme := ""
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			scheme = raw[:j+3]
		}
		return scheme + "xxxxx@" + raw[i+1:]
	}
	return raw
}
