package cli

import (
	"github.com/spf13/cobra"
)

// fuseCmd represents the fuse command
var fuseCmd = &cobra.Command{
	Use:   "fuse <scope>",
	Short: "Fuse a scope's claims into fused assertions",
	Long: `Fuse reads every claim recorded in a scope, clusters agreeing claims,
scores confidence by independent-source count and preserves disagreement
as explicit conflict edges. Assertions that restate a previous run's fact
supersede it rather than overwrite it.

Example:
  evidentia fuse case-42`,
	Args: cobra.ExactArgs(1),
	RunE: runFuse,
}

func init() {
	rootCmd.AddCommand(fuseCmd)
}

func runFuse(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	run, err := e.Fuse(cmd.Context(), args[0], actor)
	if err != nil {
		return err
	}
	return printJSON(run)
}
