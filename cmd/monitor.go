package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/monitoring"
)

var monitorWatch bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check pipeline health and send alerts",
	Long:  "Collects failed and stale jobs, the missing-email backlog and the bounce rate, and posts any threshold breach to the alert webhook. With --watch it repeats every monitoring.check_interval_secs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, staleTimeout()),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)

		if monitorWatch {
			checker.Run(ctx)
			return nil
		}

		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return err
		}
		for _, a := range alerts {
			zap.L().Warn("alert", zap.String("type", string(a.Type)), zap.String("message", a.Message))
		}
		return printJSON(cmd.OutOrStdout(), snap)
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorWatch, "watch", false, "keep checking until interrupted")
	rootCmd.AddCommand(monitorCmd)
}
