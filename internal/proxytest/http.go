package proxytest

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// hopByHopHeaders lists the headers a proxy must not forward.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPProxy is a forward proxy handling absolute-URI requests and CONNECT
// tunnels. Responses carry an "X-Proxytest: forwarded" header on the
// plain HTTP path.
type HTTPProxy struct {
	recorder
	server    *httptest.Server
	transport *http.Transport
	logger    *slog.Logger
}

// NewHTTPProxy starts an HTTPProxy on a loopback port. If logger is nil,
// a no-op logger is used.
func NewHTTPProxy(logger *slog.Logger) *HTTPProxy {
	p := &HTTPProxy{
		transport: &http.Transport{
			DialContext:       (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			DisableKeepAlives: true,
		},
		logger: discardLogger(logger),
	}
	p.server = httptest.NewServer(p)
	return p
}

// URL returns the proxy URL, e.g. "http://127.0.0.1:41234".
func (p *HTTPProxy) URL() string {
	return p.server.URL
}

// Addr returns the host:port the proxy listens on.
func (p *HTTPProxy) Addr() string {
	return p.server.Listener.Addr().String()
}

// Close shuts the proxy down.
func (p *HTTPProxy) Close() {
	p.transport.CloseIdleConnections()
	p.server.CloseClientConnections()
	p.server.Close()
}

// ServeHTTP tunnels CONNECT requests and forwards everything else.
func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
	} else {
		p.handleHTTP(w, r)
	}
}

func (p *HTTPProxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Host == "" {
		http.Error(w, "proxytest: request URI is not absolute", http.StatusBadRequest)
		return
	}
	p.add(Record{Method: r.Method, Target: r.URL.Host, ProxyAuth: r.Header.Get("Proxy-Authorization")})

	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	removeHopByHopHeaders(outReq.Header)

	resp, err := p.transport.RoundTrip(outReq)
	if err != nil {
		p.logger.Error("proxytest: upstream request failed", "host", r.URL.Host, "error", err)
		http.Error(w, "proxytest: upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	removeHopByHopHeaders(resp.Header)
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("X-Proxytest", "forwarded")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("proxytest: response body copy error", "error", err)
	}
}

func (p *HTTPProxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	target := r.Host
	if !strings.Contains(target, ":") {
		target = net.JoinHostPort(target, "443")
	}
	p.add(Record{Method: r.Method, Target: target, ProxyAuth: r.Header.Get("Proxy-Authorization")})

	targetConn, err := net.DialTimeout("tcp", target, 5*time.Second)
	if err != nil {
		http.Error(w, "proxytest: dial target: "+err.Error(), http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = targetConn.Close()
		http.Error(w, "proxytest: hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, bufRW, err := hijacker.Hijack()
	if err != nil {
		_ = targetConn.Close()
		p.logger.Error("proxytest: hijack failed", "error", err)
		return
	}

	_, _ = bufRW.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	_ = bufRW.Flush()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() { _ = targetConn.Close() }()
		_, _ = io.Copy(targetConn, bufRW)
	}()
	go func() {
		defer wg.Done()
		defer func() { _ = clientConn.Close() }()
		_, _ = io.Copy(clientConn, targetConn)
	}()
	wg.Wait()
}

func removeHopByHopHeaders(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}
