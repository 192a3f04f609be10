package proxyenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"
)

// Default ports filled in when a proxy URL omits one.
var defaultProxyPorts = map[string]string{
	"http":    "80",
	"https":   "443",
	"socks5":  "1080",
	"socks5h": "1080",
}

// Agent routes outbound requests through a single proxy. It is the dispatch
// capability handed to the caller, who owns it for the lifetime of the
// request or connection pool it backs. The resolver never retains agents.
//
// Agent implements http.RoundTripper.
type Agent struct {
	proxyURL  *url.URL
	transport *http.Transport
}

// Compile-time check that Agent implements http.RoundTripper.
var _ http.RoundTripper = (*Agent)(nil)

// NewAgent wraps a transport already configured to use proxyURL. It is
// meant for Capability implementations; most callers obtain agents from a
// Factory.
func NewAgent(proxyURL *url.URL, transport *http.Transport) *Agent {
	return &Agent{proxyURL: proxyURL, transport: transport}
}

// ProxyURL returns a copy of the proxy URL the agent dispatches through.
func (a *Agent) ProxyURL() *url.URL {
	u := *a.proxyURL
	return &u
}

// Transport returns the underlying transport.
func (a *Agent) Transport() *http.Transport {
	return a.transport
}

// RoundTrip sends req through the proxy.
func (a *Agent) RoundTrip(req *http.Request) (*http.Response, error) {
	return a.transport.RoundTrip(req)
}

// Client returns an *http.Client that dispatches through the agent.
func (a *Agent) Client() *http.Client {
	return &http.Client{Transport: a}
}

// CloseIdleConnections closes idle connections held by the agent's transport.
func (a *Agent) CloseIdleConnections() {
	a.transport.CloseIdleConnections()
}

// String returns the redacted proxy URL.
func (a *Agent) String() string {
	return a.proxyURL.Redacted()
}

// Capability builds agents bound to a proxy URL. Construction errors for
// malformed or unsupported proxy URLs wrap ErrInvalidProxyURL.
type Capability interface {
	NewAgent(proxyURL string) (*Agent, error)
}

// CapabilityFunc adapts an ordinary function to a Capability.
type CapabilityFunc func(proxyURL string) (*Agent, error)

// NewAgent calls f(proxyURL).
func (f CapabilityFunc) NewAgent(proxyURL string) (*Agent, error) {
	return f(proxyURL)
}

// Provider performs the deferred lookup of the proxying capability of the
// host transport stack. Load may block; an error means the capability is
// not available in the running environment.
type Provider interface {
	Load(ctx context.Context) (Capability, error)
}

// ProviderFunc adapts an ordinary function to a Provider.
type ProviderFunc func(ctx context.Context) (Capability, error)

// Load calls f(ctx).
func (f ProviderFunc) Load(ctx context.Context) (Capability, error) {
	return f(ctx)
}

// DefaultProvider returns a Provider backed by TransportCapability with
// default settings.
func DefaultProvider() Provider {
	return ProviderFunc(func(ctx context.Context) (Capability, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &TransportCapability{}, nil
	})
}

// TransportCapability builds agents on net/http transports.
//
// HTTP and HTTPS proxies are set as the transport's Proxy, which makes
// net/http forward plain requests and tunnel TLS with CONNECT. SOCKS5
// proxies (socks5, socks5h) replace the transport's DialContext with a
// golang.org/x/net/proxy dialer.
type TransportCapability struct {
	// Base is cloned for every agent. If nil, http.DefaultTransport is used.
	Base *http.Transport

	// Forward is the dialer SOCKS5 proxies are reached through.
	// If nil, proxy.Direct is used.
	Forward proxy.Dialer
}

// NewAgent parses proxyURL and returns an agent routing through it.
func (c *TransportCapability) NewAgent(proxyURL string) (*Agent, error) {
	u, err := parseProxyURL(proxyURL)
	if err != nil {
		return nil, err
	}

	transport := c.baseTransport()
	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		forward := c.Forward
		if forward == nil {
			forward = proxy.Direct
		}
		dialer, err := proxy.FromURL(u, forward)
		if err != nil {
			return nil, &URLError{Op: "agent", URL: proxyURL, Kind: ErrInvalidProxyURL, Err: err}
		}
		transport.Proxy = nil
		transport.DialContext = contextDial(dialer)
	default:
		return nil, &URLError{
			Op:   "agent",
			URL:  proxyURL,
			Kind: ErrInvalidProxyURL,
			Err:  fmt.Errorf("unsupported proxy scheme %q", u.Scheme),
		}
	}

	return NewAgent(u, transport), nil
}

func (c *TransportCapability) baseTransport() *http.Transport {
	if c.Base != nil {
		return c.Base.Clone()
	}
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		return t.Clone()
	}
	return &http.Transport{}
}

// contextDial returns a DialContext function for d, falling back to a
// plain Dial that ignores cancellation when d has no context support.
func contextDial(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return d.Dial(network, addr)
	}
}

// parseProxyURL parses and normalizes a proxy URL. The scheme is
// lower-cased and a missing port is filled from defaultProxyPorts.
func parseProxyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &URLError{Op: "agent", URL: raw, Kind: ErrInvalidProxyURL, Err: err}
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return nil, &URLError{
			Op:   "agent",
			URL:  raw,
			Kind: ErrInvalidProxyURL,
			Err:  errors.New("proxy URL must have the form scheme://[user:pass@]host[:port]"),
		}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Port() == "" {
		if port, ok := defaultProxyPorts[u.Scheme]; ok {
			u.Host = net.JoinHostPort(u.Hostname(), port)
		}
	}
	return u, nil
}

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	// Environ returns the environment snapshot checked when CreateAgent is
	// entered. A nil snapshot means the environment cannot be resolved and
	// no agent is built. If Environ is nil, ProcessEnv is used.
	Environ func() Env

	// Provider performs the deferred capability lookup.
	// If nil, DefaultProvider is used.
	Provider Provider

	// Logger is the structured logger. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Factory turns effective proxy URLs into agents. It keeps no per-call
// state and is safe for concurrent use; every call builds a new agent.
type Factory struct {
	environ  func() Env
	provider Provider
	logger   *slog.Logger
}

// NewFactory creates a Factory from cfg. If cfg is nil, defaults are used.
func NewFactory(cfg *FactoryConfig) *Factory {
	if cfg == nil {
		cfg = &FactoryConfig{}
	}

	environ := cfg.Environ
	if environ == nil {
		environ = ProcessEnv
	}

	provider := cfg.Provider
	if provider == nil {
		provider = DefaultProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Factory{
		environ:  environ,
		provider: provider,
		logger:   logger,
	}
}

// CreateAgent returns an agent dispatching through proxyURL.
//
// It returns (nil, nil), meaning "proceed without a proxy", in two cases:
// the environment cannot be resolved, or the provider fails to load the
// proxying capability. The latter is logged at warning level and never
// returned as an error. Errors from building the agent itself, such as a
// malformed proxyURL, are returned unchanged.
func (f *Factory) CreateAgent(ctx context.Context, proxyURL string) (*Agent, error) {
	return f.createAgent(ctx, f.environ(), proxyURL)
}

// createAgent is CreateAgent with the environment snapshot supplied by the
// caller.
func (f *Factory) createAgent(ctx context.Context, env Env, proxyURL string) (*Agent, error) {
	if env == nil {
		return nil, nil
	}

	capability, err := f.provider.Load(ctx)
	if err == nil && capability == nil {
		err = errors.New("provider returned no capability")
	}
	if err != nil {
		f.logger.Warn("proxy capability unavailable, continuing without proxy",
			"proxy", Redact(proxyURL),
			"error", fmt.Errorf("%w: %w", ErrCapabilityUnavailable, err),
		)
		return nil, nil
	}

	return capability.NewAgent(proxyURL)
}
