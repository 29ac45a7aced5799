package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRepairCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Find and fix hierarchy and dependency inconsistencies",
		Long: `Scan the store for orphaned parent references, subtask lists out of
sync with their children, and dependency edges pointing at deleted
tasks. With --dry-run the issues are reported but nothing is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			report, err := eng.RepairRelationships(cmd.Context(), dryRun)
			if err != nil {
				printError(err)
				return err
			}

			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			for _, issue := range report.Issues {
				fmt.Printf("  %s\n", issue)
			}
			if dryRun {
				fmt.Printf("%d issue(s) found (dry run, nothing changed)\n", len(report.Issues))
			} else {
				fmt.Printf("%d issue(s) found, %d fixed\n", len(report.Issues), report.Fixed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report issues without fixing them")
	return cmd
}
