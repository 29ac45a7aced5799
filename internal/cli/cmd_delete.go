package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskvine/taskvine/internal/engine"
)

func newDeleteCmd() *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a task",
		Long: `Delete a task. The strategy decides what happens to its subtasks:
  block    refuse when subtasks exist (default)
  cascade  remove the whole subtree
  orphan   remove only this task, reparenting children upward

Tasks that depended on anything removed are moved to BLOCKED.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strat, err := engine.ParseDeleteStrategy(strategy)
			if err != nil {
				return err
			}

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			res, err := eng.DeleteTask(cmd.Context(), args[0], strat)
			if err != nil {
				printError(err)
				return err
			}

			if len(res.Deleted) == 0 && len(res.Blocked) > 0 {
				fmt.Printf("not deleted: %s still has subtasks (use --strategy cascade or orphan)\n", args[0])
				return nil
			}
			fmt.Printf("deleted %s\n", strings.Join(res.Deleted, ", "))
			if len(res.Orphaned) > 0 {
				fmt.Printf("orphaned %s\n", strings.Join(res.Orphaned, ", "))
			}
			if len(res.Blocked) > 0 {
				fmt.Printf("blocked %s\n", strings.Join(res.Blocked, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "block", "subtask handling: block, cascade, orphan")
	return cmd
}
