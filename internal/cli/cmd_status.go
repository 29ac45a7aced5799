package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var bulk bool

	cmd := &cobra.Command{
		Use:   "status <path> <status>",
		Short: "Change a task's status",
		Long: `Move a task to a new status and apply the full propagation: failed
tasks block their dependents, unanimous children roll up to the parent,
and blocking cascades down the subtree.

With --bulk the transition table is relaxed for batch resets: completed
is reachable from any state (dependencies permitting) and pending from
any state.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := parseStatusArg(args[1])
			if err != nil {
				return err
			}

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			updated, err := eng.ChangeStatus(cmd.Context(), args[0], status, bulk)
			if err != nil {
				printError(err)
				return err
			}
			fmt.Printf("%s is now %s\n", updated.Path, updated.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&bulk, "bulk", false, "relax the transition table for batch resets")
	return cmd
}
