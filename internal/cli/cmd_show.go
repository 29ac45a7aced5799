package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newShowCmd() *cobra.Command {
	var (
		asYAML  bool
		subtree bool
	)

	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if subtree {
				tasks, err := eng.GetSubtree(cmd.Context(), args[0], 0)
				if err != nil {
					printError(err)
					return err
				}
				for _, t := range tasks {
					printTaskLine(t)
				}
				return nil
			}

			t, err := eng.GetTask(cmd.Context(), args[0])
			if err != nil {
				printError(err)
				return err
			}
			if asYAML {
				out, err := yaml.Marshal(t)
				if err != nil {
					return fmt.Errorf("render task: %w", err)
				}
				fmt.Print(string(out))
				return nil
			}
			printTask(t)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the full record as yaml")
	cmd.Flags().BoolVar(&subtree, "subtree", false, "list the task and all descendants")
	return cmd
}
