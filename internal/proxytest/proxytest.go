// Package proxytest runs in-process forward proxies for tests. Each proxy
// records the destinations it is asked to reach, so a test can assert that
// traffic actually went through it.
package proxytest

import (
	"io"
	"log/slog"
	"sync"
)

// Record describes one request seen by a proxy.
type Record struct {
	// Method is the HTTP method, or "SOCKS5" for SOCKS CONNECT requests.
	Method string
	// Target is the host:port the client asked the proxy to reach.
	Target string
	// ProxyAuth is the Proxy-Authorization header value, if any.
	ProxyAuth string
}

// recorder accumulates Records. It is safe for concurrent use.
type recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *recorder) add(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Records returns a copy of the requests seen so far.
func (r *recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

func discardLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
