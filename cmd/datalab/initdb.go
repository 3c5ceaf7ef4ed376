package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"datalab-service/internal/importer"
	"datalab-service/internal/progress"
	"datalab-service/internal/tasks"
)

type initDBOptions struct {
	Overwrite bool
	Force     bool
	APIFile   string
	UIFile    string
	Quiet     bool
}

// cliResult is what initdb prints.
type cliResult struct {
	Success        bool              `json:"success"`
	Warnings       map[string]string `json:"warnings"`
	SecondsElapsed int               `json:"seconds_elapsed"`
}

func newInitDBCmd(root *rootOptions) *cobra.Command {
	opts := initDBOptions{}
	cmd := &cobra.Command{
		Use:   "initdb --api-file <path> [--ui-file <path>] [--overwrite] [--force]",
		Short: "Import a dataset workbook into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			var sink progress.Sink
			if !opts.Quiet {
				sink = progress.ConsoleSink{W: cmd.ErrOrStderr()}
			}
			res, runErr := tasks.RunInline(cmd.Context(), tasks.NewRegistry(a.db), a.importer, importer.Request{
				Overwrite: opts.Overwrite,
				Force:     opts.Force,
				APIPath:   opts.APIFile,
				UIPath:    opts.UIFile,
				Sink:      sink,
			})
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(cliResult{Success: res.Success, Warnings: res.Warnings, SecondsElapsed: res.SecondsElapsed}); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "drop and recreate the dataset tables")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "import even when the files match the active dataset")
	cmd.Flags().StringVar(&opts.APIFile, "api-file", "", "dataset workbook")
	cmd.Flags().StringVar(&opts.UIFile, "ui-file", "", "interface strings workbook")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "do not print progress")
	_ = cmd.MarkFlagRequired("api-file")
	return cmd
}
