package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Ingestor turns one URL into archived, chunked, claim-extracted content.
type Ingestor interface {
	IngestURL(ctx context.Context, rawURL string) (string, error)
}

// IngestJob fetches and submits one URL.
type IngestJob struct {
	URL      string
	Ingestor Ingestor
}

// IngestResult is the outcome of one URL ingestion.
type IngestResult struct {
	URL        string
	VersionKey string
	Error      error
}

// Err implements Result.
func (r *IngestResult) Err() error {
	return r.Error
}

// Execute implements Job.
func (j *IngestJob) Execute(ctx context.Context) Result {
	versionKey, err := j.Ingestor.IngestURL(ctx, j.URL)
	return &IngestResult{
		URL:        j.URL,
		VersionKey: versionKey,
		Error:      err,
	}
}

// BatchProcessor ingests many URLs concurrently.
type BatchProcessor struct {
	ingestor    Ingestor
	concurrency int
}

// NewBatchProcessor creates a processor with the given concurrency.
func NewBatchProcessor(ingestor Ingestor, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		ingestor:    ingestor,
		concurrency: concurrency,
	}
}

// ProcessURLs ingests each URL on the pool and returns per-URL results.
func (b *BatchProcessor) ProcessURLs(ctx context.Context, urls []string) []*IngestResult {
	if len(urls) == 0 {
		return []*IngestResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for _, url := range urls {
		pool.Submit(&IngestJob{URL: url, Ingestor: b.ingestor})
	}

	results := pool.Wait()
	out := make([]*IngestResult, 0, len(results))
	for _, result := range results {
		out = append(out, result.(*IngestResult))
	}
	return out
}

// ProcessFile ingests the URLs listed in a file, one per line.
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*IngestResult, error) {
	urls, err := ReadURLsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read URLs: %w", err)
	}
	return b.ProcessURLs(ctx, urls), nil
}

// ReadURLsFromFile reads one URL per line, skipping blanks, comments, and
// duplicates.
func ReadURLsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return urls, nil
}
