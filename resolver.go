package proxyenv

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// Resolver combines the resolution steps for an SDK: it picks the effective
// proxy for each request and builds an agent for it. A Resolver holds no
// per-request state and is safe for concurrent use.
type Resolver struct {
	environ func() Env
	factory *Factory
	logger  *slog.Logger
}

// New creates a Resolver. Without options it reads the process environment
// on every call and builds agents with DefaultProvider.
func New(opts ...Option) *Resolver {
	o := &resolverOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if o.environ == nil {
		o.environ = ProcessEnv
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Resolver{
		environ: o.environ,
		factory: NewFactory(&FactoryConfig{
			Environ:  o.environ,
			Provider: o.provider,
			Logger:   o.logger,
		}),
		logger: o.logger,
	}
}

// Resolve returns the effective proxy URL for targetURL, or "" for none.
// The environment snapshot is taken once per call.
func (r *Resolver) Resolve(targetURL string, d Directive) (string, error) {
	return r.resolve(r.environ(), targetURL, d)
}

func (r *Resolver) resolve(env Env, targetURL string, d Directive) (string, error) {
	proxyURL, err := Resolve(env, targetURL, d)
	if err != nil {
		return "", err
	}
	r.logger.Debug("proxy resolved",
		"target", Redact(targetURL),
		"directive", d.String(),
		"proxy", Redact(proxyURL),
	)
	return proxyURL, nil
}

// AgentFor resolves the proxy for targetURL and builds an agent for it.
// It returns (nil, nil) when the request should go direct, either because
// no proxy applies or because the proxying capability is unavailable.
// Resolution and agent construction share one environment snapshot.
func (r *Resolver) AgentFor(ctx context.Context, targetURL string, d Directive) (*Agent, error) {
	env := r.environ()
	proxyURL, err := r.resolve(env, targetURL, d)
	if err != nil || proxyURL == "" {
		return nil, err
	}
	return r.factory.createAgent(ctx, env, proxyURL)
}

// ProxyFunc returns a function suitable for http.Transport.Proxy that
// applies directive d to every request. It reports a nil URL for requests
// that go direct.
func (r *Resolver) ProxyFunc(d Directive) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		proxyURL, err := r.Resolve(req.URL.String(), d)
		if err != nil || proxyURL == "" {
			return nil, err
		}
		return parseProxyURL(proxyURL)
	}
}
