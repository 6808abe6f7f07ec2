package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avolkau/evidentia/internal/model"
)

var (
	evidenceLicense     string
	evidenceRetainUntil string
	evidencePII         bool
	evidencePIINotes    string
	evidenceSuppress    bool
)

// evidenceCmd represents the evidence command
var evidenceCmd = &cobra.Command{
	Use:   "evidence <chunk-key>",
	Short: "Set governance metadata on a chunk's evidence record",
	Long: `Evidence attaches license, retention and PII metadata to a chunk. The
chunk itself is never deleted; suppression and retention expiry withhold
the wrapper, and exports omit the underlying content accordingly.

Example:
  evidentia evidence chk:v1:abc... --license CC-BY-4.0 --retain-until 2027-01-01
  evidentia evidence chk:v1:abc... --suppress --pii --pii-notes "names minors"`,
	Args: cobra.ExactArgs(1),
	RunE: runEvidence,
}

func init() {
	rootCmd.AddCommand(evidenceCmd)

	evidenceCmd.Flags().StringVar(&evidenceLicense, "license", "", "license identifier for the content")
	evidenceCmd.Flags().StringVar(&evidenceRetainUntil, "retain-until", "", "retention deadline (YYYY-MM-DD)")
	evidenceCmd.Flags().BoolVar(&evidencePII, "pii", false, "mark the chunk as containing personal data")
	evidenceCmd.Flags().StringVar(&evidencePIINotes, "pii-notes", "", "notes on the personal data present")
	evidenceCmd.Flags().BoolVar(&evidenceSuppress, "suppress", false, "suppress the evidence record")
}

func runEvidence(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	evidence := model.Evidence{
		ChunkKey:   args[0],
		License:    evidenceLicense,
		PII:        evidencePII,
		PIINotes:   evidencePIINotes,
		Suppressed: evidenceSuppress,
	}
	if evidenceRetainUntil != "" {
		t, err := time.Parse("2006-01-02", evidenceRetainUntil)
		if err != nil {
			return fmt.Errorf("parse --retain-until: %w", err)
		}
		evidence.RetainUntil = &t
	}

	if err := e.SetEvidence(cmd.Context(), evidence, actor); err != nil {
		return err
	}
	return printJSON(evidence)
}
