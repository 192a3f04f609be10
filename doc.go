// Package proxyenv decides, for each outbound HTTP(S) request, whether a
// forward proxy must be used and builds a transport agent that routes
// through it.
//
// The decision follows a strict priority order. An explicit directive from
// the caller wins: Disabled turns proxying off, while URL and Structured
// name the proxy directly and ignore NO_PROXY. Without a directive the
// HTTPS_PROXY, HTTP_PROXY and NO_PROXY environment variables decide, in
// either letter case with the upper-case spelling checked first.
//
// Environment state is passed in as an Env snapshot rather than read from
// the process, so every function is reentrant and tests need not mutate
// global state.
//
// Basic usage:
//
//	r := proxyenv.New()
//	agent, err := r.AgentFor(ctx, "https://api.example.com/v1", proxyenv.Absent())
//	if err != nil {
//	    return err
//	}
//	client := http.DefaultClient
//	if agent != nil {
//	    defer agent.CloseIdleConnections()
//	    client = agent.Client()
//	}
//
// A nil agent means the request goes direct: either no proxy applies or the
// proxying capability is unavailable in the running environment.
package proxyenv
