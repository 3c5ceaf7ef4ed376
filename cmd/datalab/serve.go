package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	_ "datalab-service/docs"
	"datalab-service/internal/handlers"
	"datalab-service/internal/scheduler"
	"datalab-service/internal/tasks"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			taskRegistry := tasks.NewRegistry(a.db)
			a.releaseStaleTasks(ctx, taskRegistry)
			var queue tasks.Queue
			if a.cfg.NATS.Enabled {
				nc, js, err := a.connectNATS()
				if err != nil {
					return err
				}
				defer nc.Close()
				nq := tasks.NewNATSQueue(taskRegistry, js, nc, a.log)
				if err := nq.Start(); err != nil {
					return err
				}
				defer nq.Close()
				queue = nq
			} else {
				lq := tasks.NewLocalQueue(taskRegistry, a.importer, a.log)
				defer lq.Wait()
				queue = lq
			}

			if !noScheduler {
				sched := scheduler.New(a.cfg.Schedule, a.cache, a.backup, a.log)
				if err := sched.Start(); err != nil {
					return err
				}
				defer sched.Stop()
			}

			gin.SetMode(a.cfg.GinMode)
			router := gin.New()
			router.Use(gin.LoggerWithWriter(a.log.Writer()), gin.Recovery())
			api := handlers.NewAPI(a.db, a.cache, a.registry, queue, a.env, a.log)
			api.MetricsPath = a.cfg.MetricsPath
			api.RegisterRoutes(router)

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.WithField("addr", srv.Addr).Info("Starting server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.log.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run the cache check and backup jobs")
	return cmd
}
