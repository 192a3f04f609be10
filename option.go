package proxyenv

import (
	"log/slog"
)

// Option configures a Resolver.
type Option func(*resolverOptions)

// resolverOptions holds Resolver configuration applied via Option functions.
type resolverOptions struct {
	environ  func() Env
	provider Provider
	logger   *slog.Logger
}

// WithEnv makes the Resolver use a fixed environment snapshot instead of
// the process environment. The map is copied so later changes by the
// caller are not observed. A nil env marks the environment as unresolvable.
func WithEnv(env Env) Option {
	var snapshot Env
	if env != nil {
		snapshot = env.With(nil)
	}
	return func(o *resolverOptions) {
		o.environ = func() Env { return snapshot }
	}
}

// WithEnvFunc makes the Resolver call fn for a fresh snapshot on every
// resolution. Use it to observe environment changes between requests.
func WithEnvFunc(fn func() Env) Option {
	return func(o *resolverOptions) {
		o.environ = fn
	}
}

// WithProvider sets the Provider used to load the proxying capability.
func WithProvider(p Provider) Option {
	return func(o *resolverOptions) {
		o.provider = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolverOptions) {
		o.logger = logger
	}
}
