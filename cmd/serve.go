package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-outreach/internal/api"
)

var (
	servePort    int
	serveWorker  bool
	serveMonitor bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Serves the cron trigger, provider webhooks and the operator review API. Optionally runs the job runner and the alert checker in-process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		d := api.Deps{
			Store:          env.Store,
			Jobs:           env.Runner,
			Daily:          env.Daily,
			Tracker:        env.Tracker,
			WebhookToken:   cfg.Webhook.Token,
			APIToken:       cfg.Webhook.CronSecret,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}
		if env.Gmail != nil {
			d.Gmail = env.Gmail
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.NewRouter(d),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		if serveWorker {
			g.Go(func() error { return env.Runner.Start(gctx) })
		}
		if serveMonitor {
			g.Go(func() error {
				env.Checker.Run(gctx)
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port), zap.Bool("worker", serveWorker))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				stop()
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWorker, "worker", false, "also run the job runner in-process")
	serveCmd.Flags().BoolVar(&serveMonitor, "monitor", false, "also run the alert checker in-process")
	rootCmd.AddCommand(serveCmd)
}
