package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

type fakeIngestor struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (f *fakeIngestor) IngestURL(_ context.Context, rawURL string) (string, error) {
	f.calls.Add(1)
	if f.fail[rawURL] {
		return "", errors.New("fetch failed")
	}
	return "ver:v1:" + rawURL, nil
}

func TestProcessURLs(t *testing.T) {
	ingestor := &fakeIngestor{fail: map[string]bool{"https://bad.example.org": true}}
	b := NewBatchProcessor(ingestor, 4)

	urls := []string{
		"https://a.example.org",
		"https://b.example.org",
		"https://bad.example.org",
	}
	results := b.ProcessURLs(context.Background(), urls)

	if len(results) != len(urls) {
		t.Fatalf("expected %d results, got %d", len(urls), len(results))
	}
	if got := ingestor.calls.Load(); got != int32(len(urls)) {
		t.Errorf("expected %d ingest calls, got %d", len(urls), got)
	}

	failed := 0
	var seen []string
	for _, r := range results {
		seen = append(seen, r.URL)
		if r.Err() != nil {
			failed++
			continue
		}
		if r.VersionKey == "" {
			t.Errorf("successful result for %s must carry a version key", r.URL)
		}
	}
	if failed != 1 {
		t.Errorf("expected exactly 1 failure, got %d", failed)
	}
	sort.Strings(seen)
	sort.Strings(urls)
	for i := range urls {
		if seen[i] != urls[i] {
			t.Fatalf("result set mismatch: %v vs %v", seen, urls)
		}
	}
}

func TestProcessURLsEmpty(t *testing.T) {
	b := NewBatchProcessor(&fakeIngestor{}, 2)
	if results := b.ProcessURLs(context.Background(), nil); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestReadURLsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := `# sources
https://a.example.org

https://b.example.org
https://a.example.org
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	urls, err := ReadURLsFromFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []string{"https://a.example.org", "https://b.example.org"}
	if len(urls) != len(want) {
		t.Fatalf("expected %v, got %v", want, urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("expected %v, got %v", want, urls)
		}
	}
}

func TestPoolShutdown(t *testing.T) {
	p := NewPool(context.Background(), 2)
	p.Start()
	p.Shutdown()
	// Submitting after shutdown must not block or panic.
	p.Submit(&IngestJob{URL: "https://late.example.org", Ingestor: &fakeIngestor{}})
}

// blockingIngestor holds every job until its context is cancelled.
type blockingIngestor struct{}

func (blockingIngestor) IngestURL(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestProcessURLsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	b := NewBatchProcessor(blockingIngestor{}, 2)
	// In-flight jobs run under the caller's context: cancelling it must
	// unblock them so the batch returns instead of hanging.
	results := b.ProcessURLs(ctx, []string{"https://a.example.org/one", "https://b.example.org/one"})
	for _, r := range results {
		if r.Error != nil && !errors.Is(r.Error, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", r.Error)
		}
	}
}
