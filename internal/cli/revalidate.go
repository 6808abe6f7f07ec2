package cli

import (
	"github.com/spf13/cobra"
)

// revalidateCmd represents the revalidate command
var revalidateCmd = &cobra.Command{
	Use:   "revalidate <version-key>",
	Short: "Re-resolve every chunk anchor of a version",
	Long: `Revalidate replays each chunk's selectors against the archived bytes and
records the outcome in the anchor health ledger. Archived content never
changes, so drift here means the selectors were fragile, not the source.

Example:
  evidentia revalidate ver:v1:abc...`,
	Args: cobra.ExactArgs(1),
	RunE: runRevalidate,
}

func init() {
	rootCmd.AddCommand(revalidateCmd)
}

func runRevalidate(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	summary, err := e.Revalidate(cmd.Context(), args[0], actor)
	if err != nil {
		return err
	}
	return printJSON(summary)
}
