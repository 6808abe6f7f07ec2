package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avolkau/evidentia/internal/model"
)

func testHTTPConfig() model.HTTPConfig {
	cfg := model.DefaultConfig().HTTP
	cfg.RespectRobots = false
	cfg.RatePerSecond = 1000
	cfg.Burst = 1000
	return cfg
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected a User-Agent header")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"abc123"`)
		_, _ = w.Write([]byte("<html><body><p>hello</p></body></html>"))
	}))
	defer server.Close()

	f := NewFetcher(testHTTPConfig())
	result, err := f.Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(result.Content), "hello") {
		t.Error("unexpected body")
	}
	if !strings.HasPrefix(result.ContentType, "text/html") {
		t.Errorf("unexpected content type: %q", result.ContentType)
	}
	if result.Meta["ETag"] != `"abc123"` {
		t.Errorf("expected ETag in meta, got %v", result.Meta)
	}
	if result.RetrievedAt.IsZero() {
		t.Error("expected retrieval timestamp")
	}
}

func TestFetchBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 10_000)))
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	cfg.MaxBodyBytes = 100
	f := NewFetcher(cfg)

	result, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Content) != 100 {
		t.Errorf("expected body truncated at 100 bytes, got %d", len(result.Content))
	}
}

func TestFetchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	f := NewFetcher(testHTTPConfig())
	if _, err := f.Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestFetchRespectsRobots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		_, _ = w.Write([]byte("content"))
	}))
	defer server.Close()

	cfg := testHTTPConfig()
	cfg.RespectRobots = true
	f := NewFetcher(cfg)

	if _, err := f.Fetch(context.Background(), server.URL+"/private/page"); err == nil {
		t.Error("expected robots.txt to block /private/")
	}
	if _, err := f.Fetch(context.Background(), server.URL+"/public/page"); err != nil {
		t.Errorf("public path should be allowed: %v", err)
	}
}

func TestLimiterPerDomain(t *testing.T) {
	l := NewLimiter(1, 1)

	if !l.Allow("https://a.example.org/one") {
		t.Fatal("first request to a domain should be allowed")
	}
	if l.Allow("https://a.example.org/two") {
		t.Error("burst of 1 should block the second immediate request")
	}
	if !l.Allow("https://b.example.org/one") {
		t.Error("a different domain has its own limiter")
	}
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	l := NewLimiter(0.001, 1)
	if err := l.Wait(context.Background(), "https://c.example.org/"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://c.example.org/"); err == nil {
		t.Error("expected context deadline to abort the wait")
	}
}

func TestProductToken(t *testing.T) {
	cases := map[string]string{
		"Evidentia/0.1 (+https://github.com/avolkau/evidentia)": "Evidentia",
		"SimpleBot": "SimpleBot",
		"":          "",
	}
	for in, want := range cases {
		if got := productToken(in); got != want {
			t.Errorf("productToken(%q) = %q, want %q", in, got, want)
		}
	}
}
