package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskvine/taskvine/internal/engine"
	"github.com/taskvine/taskvine/internal/task"
)

func newCreateCmd() *cobra.Command {
	var (
		name     string
		desc     string
		typ      string
		deps     []string
		metaYAML string
	)

	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a task",
		Long: `Create a task at the given path. A nested path requires the parent
task to exist; the parent's subtask list is updated automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			in := engine.CreateInput{
				Path:         args[0],
				Name:         name,
				Description:  desc,
				Dependencies: deps,
			}
			if in.Name == "" {
				in.Name = args[0]
			}
			if typ != "" {
				in.Type = task.Type(typ)
			}
			if metaYAML != "" {
				meta := map[string]any{}
				if err := yaml.Unmarshal([]byte(metaYAML), &meta); err != nil {
					return fmt.Errorf("parse --metadata: %w", err)
				}
				in.Metadata = meta
			}

			created, err := eng.CreateTask(cmd.Context(), in)
			if err != nil {
				printError(err)
				return err
			}
			fmt.Printf("created %s\n", created.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "task name (defaults to the path)")
	cmd.Flags().StringVarP(&desc, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "task type: TASK or MILESTONE")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "dependency paths (repeatable)")
	cmd.Flags().StringVar(&metaYAML, "metadata", "", "metadata as inline yaml, e.g. '{owner: backend}'")
	return cmd
}
