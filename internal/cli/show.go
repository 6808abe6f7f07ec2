package cli

import (
	"github.com/spf13/cobra"
)

// showCmd groups the read-only inspection subcommands.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Inspect identities, versions, assertions and scopes",
}

var showIdentityCmd = &cobra.Command{
	Use:   "identity <identity-key>",
	Short: "Show an artifact identity and its version chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = e.Close() }()

		identity, err := e.Identity(args[0])
		if err != nil {
			return err
		}
		chain, err := e.VersionChain(args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"identity": identity,
			"versions": chain,
		})
	},
}

var showVersionCmd = &cobra.Command{
	Use:   "version <version-key>",
	Short: "Show a version's chunks with their claims and anchor health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = e.Close() }()

		chunks, err := e.ChunksWithClaims(args[0])
		if err != nil {
			return err
		}
		return printJSON(chunks)
	},
}

var showAssertionCmd = &cobra.Command{
	Use:   "assertion <assertion-key>",
	Short: "Show an assertion with its full provenance chain",
	Long: `Shows the assertion together with every supporting and contradicting
claim, each claim's anchor health, and the archived versions the claims
point into. The chain ends at content digests, not at live URLs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = e.Close() }()

		prov, err := e.AssertionProvenance(args[0])
		if err != nil {
			return err
		}
		return printJSON(prov)
	},
}

var showScopeCmd = &cobra.Command{
	Use:   "scope <scope>",
	Short: "Show a scope's current assertions and latest fusion run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = e.Close() }()

		assertions, run, err := e.CurrentAssertions(args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"run":        run,
			"assertions": assertions,
		})
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showIdentityCmd)
	showCmd.AddCommand(showVersionCmd)
	showCmd.AddCommand(showAssertionCmd)
	showCmd.AddCommand(showScopeCmd)
}
