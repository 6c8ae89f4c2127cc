package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerMonitor bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job runner",
	Long:  "Claims and runs queued jobs (daily queue, sends, learner, ingest) with a pool of workers, sweeping stale jobs and cleaning up old ones until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return env.Runner.Start(gctx) })
		if workerMonitor {
			g.Go(func() error {
				env.Checker.Run(gctx)
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerMonitor, "monitor", false, "also run the alert checker")
	rootCmd.AddCommand(workerCmd)
}
