package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avolkau/evidentia/internal/engine"
	"github.com/avolkau/evidentia/internal/extract"
	"github.com/avolkau/evidentia/internal/model"
)

var (
	claimScope     string
	claimQuote     string
	claimSubject   string
	claimPredicate string
	claimObject    string
	claimModality  string
	claimSpeaker   string
)

// claimCmd represents the claim command
var claimCmd = &cobra.Command{
	Use:   "claim <chunk-key>",
	Short: "Record a claim manually against a chunk",
	Long: `Claim records an analyst-written claim against an archived chunk. The
quote must appear verbatim in the chunk text; selectors are built from
the quote's position and must resolve against the archived bytes before
anything is written.

Example:
  evidentia claim chk:v1:abc... --scope case-42 \
    --quote "The treaty was signed on February 2, 1848." \
    --subject "treaty" --predicate "signed" --object "February 2, 1848"`,
	Args: cobra.ExactArgs(1),
	RunE: runClaim,
}

func init() {
	rootCmd.AddCommand(claimCmd)

	claimCmd.Flags().StringVar(&claimScope, "scope", "", "case scope to record the claim into (required)")
	claimCmd.Flags().StringVar(&claimQuote, "quote", "", "verbatim quote from the chunk (required)")
	claimCmd.Flags().StringVar(&claimSubject, "subject", "", "structured subject slot")
	claimCmd.Flags().StringVar(&claimPredicate, "predicate", "", "structured predicate slot")
	claimCmd.Flags().StringVar(&claimObject, "object", "", "structured object slot")
	claimCmd.Flags().StringVar(&claimModality, "modality", string(model.ModalityUnknown), "source framing (confirmed, likely, alleged, denied, unknown)")
	claimCmd.Flags().StringVar(&claimSpeaker, "speaker", "", "attributed speaker, per the source")
	_ = claimCmd.MarkFlagRequired("scope")
	_ = claimCmd.MarkFlagRequired("quote")
}

func runClaim(cmd *cobra.Command, args []string) error {
	e, cfg, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	chunk, err := e.Chunk(args[0])
	if err != nil {
		return err
	}
	selectors, ok := extract.SelectorsFor(chunk, claimQuote, cfg.Anchor.ContextRunes)
	if !ok {
		return fmt.Errorf("quote is not verbatim text of chunk %s: %w", args[0], model.ErrUngroundedClaim)
	}

	claim, created, err := e.RecordClaim(cmd.Context(), engine.ClaimRequest{
		ChunkKey:  args[0],
		Scope:     claimScope,
		Quote:     claimQuote,
		Selectors: selectors,
		Attribution: model.Attribution{
			Speaker: claimSpeaker,
		},
		Modality: model.Modality(claimModality),
		Slots: model.Slots{
			Subject:   claimSubject,
			Predicate: claimPredicate,
			Object:    claimObject,
		},
		Proposer: "manual",
		Actor:    actor,
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"claim":   claim,
		"created": created,
	})
}
