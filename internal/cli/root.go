// Package cli implements the taskvine command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "taskvine",
	Short: "Hierarchical task lifecycle engine",
	Long: `taskvine tracks hierarchical work items with dependencies, status
propagation, and atomic multi-task operations.

Tasks are identified by slash-separated paths ("project/feature/step").
Status changes cascade: a failed task blocks its dependents, unanimous
children roll their status up to the parent, and blocking a task blocks
its whole subtree.

Quick start:
  taskvine create project --name "My project"
  taskvine create project/api --name "API work"
  taskvine status project/api in_progress
  taskvine list 'project/**'`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./taskvine.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(newCreateCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newRepairCmd())
	rootCmd.AddCommand(newStatsCmd())
}
