package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avolkau/evidentia/internal/engine"
	"github.com/avolkau/evidentia/internal/extract"
	"github.com/avolkau/evidentia/internal/ingest"
	"github.com/avolkau/evidentia/internal/model"
	"github.com/avolkau/evidentia/internal/worker"
)

var (
	submitFile        string
	submitBatch       string
	submitPublisher   string
	submitContentType string
	submitScope       string
	submitTimeout     time.Duration
	submitWorkers     int
	submitNoRobots    bool
	submitInsecure    bool
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit [url]",
	Short: "Archive content and chunk it for anchoring",
	Long: `Submit fetches (or reads) content, archives the exact bytes, derives a
stable identity and a content-addressed version, and chunks the text with
redundant anchors.

Submitting the same bytes again is a no-op returning the existing version.
A changed page becomes a new version under the same identity; nothing is
ever overwritten.

Example:
  evidentia submit https://example.org/report
  evidentia submit --file dossier.html --locator file:///dossier.html
  evidentia submit --batch urls.txt --scope case-42`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var submitLocator string

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitFile, "file", "", "read content from a local file instead of fetching")
	submitCmd.Flags().StringVar(&submitLocator, "locator", "", "locator to record for --file content")
	submitCmd.Flags().StringVar(&submitBatch, "batch", "", "file with URLs to ingest, one per line")
	submitCmd.Flags().StringVar(&submitPublisher, "publisher", "", "publishing entity for identity derivation")
	submitCmd.Flags().StringVar(&submitContentType, "content-type", "", "content type override for --file content")
	submitCmd.Flags().StringVar(&submitScope, "scope", "", "extract claims into this scope after batch submission")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 2*time.Minute, "per-URL timeout")
	submitCmd.Flags().IntVar(&submitWorkers, "workers", 4, "concurrent workers for --batch")
	submitCmd.Flags().BoolVar(&submitNoRobots, "no-robots", false, "skip robots.txt checks")
	submitCmd.Flags().BoolVar(&submitInsecure, "insecure", false, "skip TLS certificate verification")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	e, cfg, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	cfg.HTTP.Timeout = submitTimeout
	if submitNoRobots {
		cfg.HTTP.RespectRobots = false
	}
	cfg.HTTP.InsecureTLS = submitInsecure

	switch {
	case submitFile != "":
		return submitLocalFile(e)
	case submitBatch != "":
		return submitBatchFile(cmd.Context(), e, cfg)
	case len(args) == 1:
		ing, err := newURLIngestor(e, cfg, submitScope)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), submitTimeout)
		defer cancel()
		versionKey, err := ing.IngestURL(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("version: %s\n", versionKey)
		return nil
	default:
		return fmt.Errorf("provide a URL, --file, or --batch")
	}
}

func submitLocalFile(e *engine.Engine) error {
	if submitLocator == "" {
		return fmt.Errorf("--locator is required with --file")
	}
	content, err := os.ReadFile(submitFile)
	if err != nil {
		return fmt.Errorf("read %s: %w", submitFile, err)
	}
	result, err := e.SubmitContent(context.Background(), engine.SubmitRequest{
		Locator:     submitLocator,
		Publisher:   submitPublisher,
		Content:     content,
		ContentType: submitContentType,
		Actor:       actor,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func submitBatchFile(ctx context.Context, e *engine.Engine, cfg *model.Config) error {
	ing, err := newURLIngestor(e, cfg, submitScope)
	if err != nil {
		return err
	}
	processor := worker.NewBatchProcessor(ing, submitWorkers)
	results, err := processor.ProcessFile(ctx, submitBatch)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", r.URL, r.Error)
			continue
		}
		fmt.Printf("OK   %s -> %s\n", r.URL, r.VersionKey)
	}
	fmt.Printf("\n%d submitted, %d failed\n", len(results)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d URLs failed", failed, len(results))
	}
	return nil
}

// urlIngestor fetches a URL, submits the bytes, and optionally extracts
// claims into a scope.
type urlIngestor struct {
	engine    *engine.Engine
	fetcher   *ingest.Fetcher
	proposers []extract.Proposer
	scope     string
	timeout   time.Duration
}

func newURLIngestor(e *engine.Engine, cfg *model.Config, scope string) (*urlIngestor, error) {
	ing := &urlIngestor{
		engine:  e,
		fetcher: ingest.NewFetcher(cfg.HTTP),
		scope:   scope,
		timeout: submitTimeout,
	}
	if scope != "" {
		proposers, err := extract.Proposers(cfg, newLogger(cfg))
		if err != nil {
			return nil, err
		}
		ing.proposers = proposers
	}
	return ing, nil
}

// IngestURL implements worker.Ingestor.
func (i *urlIngestor) IngestURL(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	fetched, err := i.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	result, err := i.engine.SubmitContent(ctx, engine.SubmitRequest{
		Locator:     fetched.FinalURL,
		Publisher:   submitPublisher,
		Content:     fetched.Content,
		ContentType: fetched.ContentType,
		RetrievedAt: fetched.RetrievedAt,
		Meta:        fetched.Meta,
		Actor:       actor,
	})
	if err != nil {
		return "", err
	}
	if i.scope != "" && !result.Deduplicated {
		if _, err := i.engine.ExtractClaims(ctx, result.VersionKey, i.scope, i.proposers, actor); err != nil {
			return result.VersionKey, fmt.Errorf("extract claims: %w", err)
		}
	}
	return result.VersionKey, nil
}
