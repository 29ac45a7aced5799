package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show storage and cache counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			m, err := eng.Metrics(cmd.Context())
			if err != nil {
				printError(err)
				return err
			}

			fmt.Printf("tasks:    %d\n", m.Tasks)
			fmt.Printf("reads:    %d\n", m.Reads)
			fmt.Printf("writes:   %d\n", m.Writes)
			fmt.Printf("deletes:  %d\n", m.Deletes)
			fmt.Printf("batches:  %d\n", m.Batches)
			fmt.Printf("cache:    %d/%d entries, %d hits, %d misses, %d evictions\n",
				m.Cache.Size, m.Cache.Capacity, m.Cache.Hits, m.Cache.Misses, m.Cache.Evictions)
			if m.Pool != nil {
				fmt.Printf("pool:     %d active, %d idle, %d waiting, %d errors\n",
					m.Pool.Active, m.Pool.Idle, m.Pool.Waiting, m.Pool.Errors)
			}
			return nil
		},
	}
	return cmd
}
