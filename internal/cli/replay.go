package cli

import (
	"github.com/spf13/cobra"
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay [action-uid]",
	Short: "List the action ledger or replay a single action",
	Long: `Every mutation records an action with its inputs and outputs. With no
argument, replay lists the full ledger in order. With a UID it prints
that action's recorded inputs and outputs so the derivation can be
re-checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	if len(args) == 1 {
		action, err := e.Replay(args[0])
		if err != nil {
			return err
		}
		return printJSON(action)
	}

	actions, err := e.Actions()
	if err != nil {
		return err
	}
	return printJSON(actions)
}
