package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"datalab-service/internal/tasks"
)

func newTasksCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and repair the pending import registry",
	}
	cmd.AddCommand(newTasksReleaseCmd(root))
	return cmd
}

func newTasksReleaseCmd(root *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "release [--force]",
		Short: "Free the import slot held by an abandoned task",
		Long: "Marks the active import task failed and frees its slot when it has not been updated\n" +
			"for STALE_TASK_AFTER. With --force the slot is freed regardless of age.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			olderThan := a.cfg.Import.StaleTaskAfter
			if force {
				olderThan = 0
			}
			ids, err := tasks.NewRegistry(a.db).ReleaseStale(cmd.Context(), tasks.SlotInitialize, olderThan)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no stale import task")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "release the slot even if the task was updated recently")
	return cmd
}
