package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list [pattern]",
		Short: "List tasks matching a glob pattern",
		Long: `List tasks whose paths match a glob pattern. '*' matches within one
path segment, '**' across segments. Without a pattern every task is
listed.

Examples:
  taskvine list 'project/*'
  taskvine list '**/deploy' --status pending`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "**"
			if len(args) == 1 {
				pattern = args[0]
			}

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			tasks, err := eng.ListTasks(cmd.Context(), pattern)
			if err != nil {
				printError(err)
				return err
			}

			var only string
			if statusFilter != "" {
				s, err := parseStatusArg(statusFilter)
				if err != nil {
					return err
				}
				only = string(s)
			}

			shown := 0
			for _, t := range tasks {
				if only != "" && string(t.Status) != only {
					continue
				}
				printTaskLine(t)
				shown++
			}
			if shown == 0 {
				fmt.Println("no tasks match")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "only show tasks in this status")
	return cmd
}
