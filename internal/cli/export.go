package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var exportOut string

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <scope>",
	Short: "Export a scope as a self-contained evidence bundle",
	Long: `Export writes a scope's assertions, claims, chunks, versions, action
history and content blobs into a directory that verifies without access
to the store or the original sources. Suppressed evidence is withheld.

Example:
  evidentia export case-42 --out ./bundle`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <dir>",
	Short: "Verify an exported bundle offline",
	Long: `Verify re-digests every blob in a bundle, re-resolves every claim's
selectors against the bundled bytes, and checks that each assertion's
supporting claims are present. It needs nothing outside the directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(verifyCmd)

	exportCmd.Flags().StringVar(&exportOut, "out", "", "output directory (required)")
	_ = exportCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	manifest, err := e.Export(cmd.Context(), args[0], exportOut)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", args[0], manifest)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	report, err := e.VerifyExport(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("bundle verification failed")
	}
	return nil
}
