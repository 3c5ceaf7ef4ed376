package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"datalab-service/internal/registry"
)

func newDatasetsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Manage dataset versions",
	}
	cmd.AddCommand(newDatasetsListCmd(root))
	cmd.AddCommand(newDatasetsActivateCmd(root))
	return cmd
}

func newDatasetsListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered and stored dataset versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			listings, err := a.registry.List(cmd.Context(), a.db)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tNAME\tTYPE\tPRODUCTION\tSTAGING\tLOCATION")
			for _, l := range listings {
				where := "store"
				if !l.Local {
					where = l.StorageID
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%t\t%s\n", l.VersionNumber, l.Name, l.DatasetType, l.IsActiveProduction, l.IsActiveStaging, where)
			}
			return tw.Flush()
		},
	}
}

func newDatasetsActivateCmd(root *rootOptions) *cobra.Command {
	var envFlag string
	cmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Make a dataset version the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dataset version id %q", args[0])
			}
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			env := a.env
			if envFlag != "" {
				if env, err = registry.ParseEnvironment(envFlag); err != nil {
					return err
				}
			}
			err = a.db.WithContext(cmd.Context()).Transaction(func(tx *gorm.DB) error {
				return a.registry.RegisterActive(tx, uint(id), env)
			})
			if err != nil {
				return err
			}
			if env == a.env {
				if err := a.cache.Refresh(cmd.Context()); err != nil {
					a.log.WithError(err).Warn("Cache refresh after activation failed")
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dataset version %d is active in %s\n", id, env)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFlag, "env", "", "production or staging (default DATALAB_ENV)")
	return cmd
}
