package proxyenv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// unknownStr is returned by String methods for out-of-range values.
const unknownStr = "unknown"

// defaultProtocol is used by ToURL when a ProxyConfig has no Protocol.
const defaultProtocol = "http"

// Kind identifies the variant held by a Directive.
type Kind int

const (
	// KindAbsent means no explicit directive was given; the environment decides.
	KindAbsent Kind = iota

	// KindDisabled means proxying is explicitly turned off for the request.
	KindDisabled

	// KindURL means the directive carries a proxy URL used verbatim.
	KindURL

	// KindStructured means the directive carries a ProxyConfig.
	KindStructured
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindDisabled:
		return "disabled"
	case KindURL:
		return "url"
	case KindStructured:
		return "structured"
	default:
		return unknownStr
	}
}

// ProxyConfig is the structured form of a proxy directive.
type ProxyConfig struct {
	// Host is the proxy host name or IP address. Required.
	Host string `yaml:"host" json:"host"`

	// Port is the proxy port, 1 to 65535. Required.
	Port int `yaml:"port" json:"port"`

	// Protocol is the proxy URL scheme. Defaults to "http".
	Protocol string `yaml:"protocol,omitempty" json:"protocol,omitempty"`

	// Auth is optional "user:pass" credentials for the proxy.
	Auth string `yaml:"auth,omitempty" json:"auth,omitempty"`
}

// URL returns the canonical proxy URL for c. See ToURL.
func (c ProxyConfig) URL() string {
	return ToURL(c)
}

// Validate checks the fields a structured directive must carry: a non-empty
// host, a port in 1..65535 and, when set, a syntactically valid protocol.
// The returned error wraps ErrConfigInvalid.
func (c ProxyConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	if c.Protocol != "" && !validScheme(c.Protocol) {
		errs = append(errs, fmt.Errorf("protocol %q is not a valid URL scheme", c.Protocol))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
}

// validScheme reports whether s matches the RFC 3986 scheme grammar.
func validScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' || c == '+' || c == '-' || c == '.':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return s != ""
}

// ToURL formats c as "protocol://[auth@]host:port". Protocol defaults to
// "http" and auth is only included when set. No validation is performed;
// fields are copied verbatim.
func ToURL(c ProxyConfig) string {
	protocol := c.Protocol
	if protocol == "" {
		protocol = defaultProtocol
	}

	var b strings.Builder
	b.WriteString(protocol)
	b.WriteString("://")
	if c.Auth != "" {
		b.WriteString(c.Auth)
		b.WriteByte('@')
	}
	b.WriteString(c.Host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(c.Port))
	return b.String()
}

// Directive is the caller's per-request instruction for proxy use.
// The zero value is the absent directive.
type Directive struct {
	kind   Kind
	url    string
	config ProxyConfig
}

// Absent returns the directive that defers to the environment.
func Absent() Directive {
	return Directive{}
}

// Disabled returns the directive that forbids proxying regardless of the
// environment.
func Disabled() Directive {
	return Directive{kind: KindDisabled}
}

// URL returns a directive that uses rawURL verbatim as the proxy.
func URL(rawURL string) Directive {
	return Directive{kind: KindURL, url: rawURL}
}

// Structured returns a directive built from cfg. The config is not
// validated here; call ProxyConfig.Validate first if it comes from
// untrusted input.
func Structured(cfg ProxyConfig) Directive {
	return Directive{kind: KindStructured, config: cfg}
}

// Kind returns the variant held by d.
func (d Directive) Kind() Kind {
	return d.kind
}

// RawURL returns the proxy URL of a KindURL directive.
func (d Directive) RawURL() (string, bool) {
	return d.url, d.kind == KindURL
}

// Config returns the ProxyConfig of a KindStructured directive.
func (d Directive) Config() (ProxyConfig, bool) {
	return d.config, d.kind == KindStructured
}

// String returns a human-readable form of d with credentials redacted.
func (d Directive) String() string {
	switch d.kind {
	case KindURL:
		return "url(" + Redact(d.url) + ")"
	case KindStructured:
		return "structured(" + Redact(ToURL(d.config)) + ")"
	default:
		return d.kind.String()
	}
}
