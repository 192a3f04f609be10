package proxyenv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zhangyunhao116/proxyenv/internal/proxytest"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://from-process:3128")
	t.Setenv("NO_PROXY", "")
	t.Setenv("no_proxy", "")

	r := New()
	got, err := r.Resolve("https://api.example.com", Absent())
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://from-process:3128" {
		t.Errorf("Resolve() = %q, want process environment proxy", got)
	}
}

func TestNewObservesProcessEnvironmentChanges(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://first:1")
	t.Setenv("NO_PROXY", "")
	t.Setenv("no_proxy", "")
	r := New()

	if got, _ := r.Resolve("https://api.example.com", Absent()); got != "http://first:1" {
		t.Fatalf("Resolve() = %q, want http://first:1", got)
	}

	t.Setenv("NO_PROXY", "api.example.com")
	if got, _ := r.Resolve("https://api.example.com", Absent()); got != "" {
		t.Errorf("Resolve() after NO_PROXY change = %q, want none", got)
	}
}

func TestWithEnvCopiesSnapshot(t *testing.T) {
	env := Env{"HTTPS_PROXY": "http://snap:1"}
	r := New(WithEnv(env))
	env["HTTPS_PROXY"] = "http://mutated:2"

	got, err := r.Resolve("https://api.example.com", Absent())
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://snap:1" {
		t.Errorf("Resolve() = %q, want snapshot value", got)
	}
}

func TestWithEnvFunc(t *testing.T) {
	var mu sync.Mutex
	current := Env{"HTTPS_PROXY": "http://a:1"}
	r := New(WithEnvFunc(func() Env {
		mu.Lock()
		defer mu.Unlock()
		return current
	}))

	if got, _ := r.Resolve("https://x.test", Absent()); got != "http://a:1" {
		t.Fatalf("Resolve() = %q, want http://a:1", got)
	}
	mu.Lock()
	current = Env{"HTTPS_PROXY": "http://b:2"}
	mu.Unlock()
	if got, _ := r.Resolve("https://x.test", Absent()); got != "http://b:2" {
		t.Errorf("Resolve() = %q, want http://b:2", got)
	}
}

func TestResolverLogsResolution(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := New(WithEnv(Env{}), WithLogger(logger))

	if _, err := r.Resolve("https://api.example.com", URL("http://u:pw@p:1")); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "proxy resolved") {
		t.Errorf("log %q missing resolution record", out)
	}
	if strings.Contains(out, "pw@") {
		t.Errorf("log %q leaks proxy password", out)
	}
}

func TestResolverLogRedactsSchemelessProxy(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := New(WithEnv(Env{"HTTPS_PROXY": "user:s3cret@proxy.corp:3128"}), WithLogger(logger))

	got, err := r.Resolve("https://api.example.com", Absent())
	if err != nil {
		t.Fatal(err)
	}
	if got != "user:s3cret@proxy.corp:3128" {
		t.Errorf("Resolve() = %q, want the variable verbatim", got)
	}
	if out := buf.String(); strings.Contains(out, "s3cret") {
		t.Errorf("log %q leaks proxy password", out)
	}

	_, err = r.AgentFor(context.Background(), "https://api.example.com", Absent())
	if !errors.Is(err, ErrInvalidProxyURL) {
		t.Fatalf("AgentFor() error = %v, want ErrInvalidProxyURL", err)
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Errorf("error %q leaks proxy password", err)
	}
}

// ---------------------------------------------------------------------------
// AgentFor
// ---------------------------------------------------------------------------

func TestAgentFor_NoProxy(t *testing.T) {
	r := New(WithEnv(Env{}))
	agent, err := r.AgentFor(context.Background(), "https://api.example.com", Absent())
	if err != nil || agent != nil {
		t.Errorf("AgentFor() = (%v, %v), want (nil, nil)", agent, err)
	}
}

func TestAgentFor_Disabled(t *testing.T) {
	r := New(WithEnv(Env{"HTTPS_PROXY": "http://proxy:3128"}))
	agent, err := r.AgentFor(context.Background(), "https://api.example.com", Disabled())
	if err != nil || agent != nil {
		t.Errorf("AgentFor(Disabled) = (%v, %v), want (nil, nil)", agent, err)
	}
}

func TestAgentFor_Bypassed(t *testing.T) {
	r := New(WithEnv(Env{"HTTPS_PROXY": "http://proxy:3128", "NO_PROXY": ".example.com"}))
	agent, err := r.AgentFor(context.Background(), "https://api.example.com", Absent())
	if err != nil || agent != nil {
		t.Errorf("AgentFor(bypassed) = (%v, %v), want (nil, nil)", agent, err)
	}
}

func TestAgentFor_FromEnvironment(t *testing.T) {
	r := New(WithEnv(Env{"HTTPS_PROXY": "http://proxy:3128"}))
	agent, err := r.AgentFor(context.Background(), "https://api.example.com", Absent())
	if err != nil {
		t.Fatal(err)
	}
	if agent == nil {
		t.Fatal("AgentFor() = nil, want agent")
	}
	defer agent.CloseIdleConnections()
	if got := agent.ProxyURL().String(); got != "http://proxy:3128" {
		t.Errorf("agent proxy = %q, want http://proxy:3128", got)
	}
}

func TestAgentFor_StructuredDirective(t *testing.T) {
	r := New(WithEnv(Env{"NO_PROXY": "*"}))
	agent, err := r.AgentFor(context.Background(), "https://api.example.com",
		Structured(ProxyConfig{Host: "p", Port: 8080, Protocol: "https", Auth: "u:x"}))
	if err != nil {
		t.Fatal(err)
	}
	if agent == nil {
		t.Fatal("structured directive must win over NO_PROXY")
	}
	u := agent.ProxyURL()
	if u.Scheme != "https" || u.Host != "p:8080" || u.User.Username() != "u" {
		t.Errorf("agent proxy = %s, want https://u:x@p:8080", u.Redacted())
	}
}

func TestAgentFor_InvalidTarget(t *testing.T) {
	r := New(WithEnv(Env{}))
	_, err := r.AgentFor(context.Background(), "https://bad host/%zz", Absent())
	if !errors.Is(err, ErrInvalidURL) {
		t.Errorf("AgentFor(bad target) error = %v, want ErrInvalidURL", err)
	}
}

func TestAgentFor_InvalidProxy(t *testing.T) {
	r := New(WithEnv(Env{"HTTPS_PROXY": "proxy-without-scheme"}))
	_, err := r.AgentFor(context.Background(), "https://api.example.com", Absent())
	if !errors.Is(err, ErrInvalidProxyURL) {
		t.Errorf("AgentFor(bad proxy) error = %v, want ErrInvalidProxyURL", err)
	}
}

func TestAgentFor_ProviderFailureProceedsDirect(t *testing.T) {
	r := New(
		WithEnv(Env{"HTTPS_PROXY": "http://proxy:3128"}),
		WithProvider(failingProvider(nil)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	agent, err := r.AgentFor(context.Background(), "https://api.example.com", Absent())
	if err != nil || agent != nil {
		t.Errorf("AgentFor() = (%v, %v), want (nil, nil)", agent, err)
	}
}

func TestAgentFor_UnresolvableEnvironment(t *testing.T) {
	r := New(WithEnv(nil))
	agent, err := r.AgentFor(context.Background(), "https://api.example.com", URL("http://proxy:3128"))
	if err != nil || agent != nil {
		t.Errorf("AgentFor() with nil env = (%v, %v), want (nil, nil)", agent, err)
	}
}

func TestAgentForTakesOneSnapshot(t *testing.T) {
	var calls atomic.Int32
	r := New(WithEnvFunc(func() Env {
		// Every snapshot after the first is unresolvable.
		if calls.Add(1) > 1 {
			return nil
		}
		return Env{"HTTPS_PROXY": "http://proxy:3128"}
	}))

	agent, err := r.AgentFor(context.Background(), "https://api.example.com", Absent())
	if err != nil {
		t.Fatal(err)
	}
	if agent == nil {
		t.Fatal("AgentFor() = nil, want agent built from the first snapshot")
	}
	defer agent.CloseIdleConnections()
	if n := calls.Load(); n != 1 {
		t.Errorf("environment read %d times, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// ProxyFunc
// ---------------------------------------------------------------------------

func TestProxyFunc(t *testing.T) {
	r := New(WithEnv(Env{"HTTP_PROXY": "http://proxy:3128", "NO_PROXY": "internal.test"}))
	fn := r.ProxyFunc(Absent())

	tests := []struct {
		target string
		want   string
	}{
		{"http://api.example.com/x", "http://proxy:3128"},
		{"http://db.internal.test/x", ""},
		{"ftp://files.example.com/x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			u, err := fn(req)
			if err != nil {
				t.Fatal(err)
			}
			got := ""
			if u != nil {
				got = u.String()
			}
			if got != tt.want {
				t.Errorf("ProxyFunc(%s) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}

func TestProxyFuncWithTransport(t *testing.T) {
	backend := newTestBackend(t)
	p := proxytest.NewHTTPProxy(nil)
	defer p.Close()

	r := New(WithEnv(Env{}))
	transport := &http.Transport{Proxy: r.ProxyFunc(URL(p.URL()))}
	defer transport.CloseIdleConnections()

	resp, err := (&http.Client{Transport: transport}).Get(backend.URL + "/via-func")
	if err != nil {
		t.Fatal(err)
	}
	if body := readBody(t, resp); body != "backend:/via-func" {
		t.Errorf("body = %q, want %q", body, "backend:/via-func")
	}
	if n := len(p.Records()); n != 1 {
		t.Errorf("proxy saw %d requests, want 1", n)
	}
}

func TestResolverConcurrentUse(t *testing.T) {
	r := New(WithEnv(Env{"HTTPS_PROXY": "http://proxy:3128", "NO_PROXY": ".internal"}))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target, want := "https://api.example.com", "http://proxy:3128"
			if i%2 == 0 {
				target, want = "https://db.internal", ""
			}
			got, err := r.Resolve(target, Absent())
			if err != nil || got != want {
				t.Errorf("Resolve(%q) = (%q, %v), want %q", target, got, err, want)
			}
		}(i)
	}
	wg.Wait()
}
