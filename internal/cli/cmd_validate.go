package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path> <dependency>...",
		Short: "Check a candidate dependency set without applying it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			res, err := eng.ValidateDependencies(cmd.Context(), args[0], args[1:])
			if err != nil {
				printError(err)
				return err
			}

			if res.Valid {
				fmt.Println("ok")
			} else {
				fmt.Println("invalid")
			}
			for _, m := range res.Missing {
				fmt.Printf("  missing: %s\n", m)
			}
			for _, c := range res.Cycles {
				fmt.Printf("  cycle: %s\n", strings.Join(c, " -> "))
			}
			for _, w := range res.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			fmt.Printf("depth %d, breadth %d\n", res.Depth, res.Breadth)
			if !res.Valid {
				return fmt.Errorf("dependency set is invalid")
			}
			return nil
		},
	}
	return cmd
}
