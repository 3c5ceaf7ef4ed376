package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"datalab-service/internal/tasks"
)

func newWorkerCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume import tasks from NATS JetStream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()
			if !a.cfg.NATS.Enabled {
				return errors.New("the worker needs NATS_ENABLED=true")
			}

			nc, js, err := a.connectNATS()
			if err != nil {
				return err
			}
			defer nc.Close()

			taskRegistry := tasks.NewRegistry(a.db)
			a.releaseStaleTasks(cmd.Context(), taskRegistry)
			w := tasks.NewWorker(taskRegistry, a.importer, js, nc, a.log)
			sub, err := w.Start()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			a.log.Info("Stopping worker")
			return sub.Drain()
		},
	}
}
