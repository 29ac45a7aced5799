package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskvine/taskvine/internal/engine"
	"github.com/taskvine/taskvine/internal/task"
)

func newUpdateCmd() *cobra.Command {
	var (
		name       string
		desc       string
		deps       []string
		clearDeps  bool
		note       string
		noteType   string
		expVersion int64
	)

	cmd := &cobra.Command{
		Use:   "update <path>",
		Short: "Update a task's fields",
		Long: `Update a task. Only the flags you pass change; everything else is
left untouched. With --expect-version the update fails if another writer
got there first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			u := engine.Updates{ExpectedVersion: expVersion}
			if cmd.Flags().Changed("name") {
				u.Name = &name
			}
			if cmd.Flags().Changed("description") {
				u.Description = &desc
			}
			if cmd.Flags().Changed("depends-on") {
				u.Dependencies = &deps
			}
			if clearDeps {
				empty := []string{}
				u.Dependencies = &empty
			}
			if note != "" {
				nt := task.NoteType(noteType)
				u.AddNote = &task.Note{Type: nt, Content: note, CreatedAt: time.Now().UTC()}
			}

			updated, err := eng.UpdateTask(cmd.Context(), args[0], u)
			if err != nil {
				printError(err)
				return err
			}
			fmt.Printf("updated %s (version %d)\n", updated.Path, updated.Version)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "new task name")
	cmd.Flags().StringVarP(&desc, "description", "d", "", "new description")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "replace the dependency set")
	cmd.Flags().BoolVar(&clearDeps, "clear-deps", false, "remove all dependencies")
	cmd.Flags().StringVar(&note, "note", "", "append a note")
	cmd.Flags().StringVar(&noteType, "note-type", string(task.NoteProgress), "note type: planning, progress, completion, troubleshooting")
	cmd.Flags().Int64Var(&expVersion, "expect-version", 0, "fail unless the stored version matches")
	return cmd
}
