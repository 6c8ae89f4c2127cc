package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/queue"
)

var cleanupDays int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job queue maintenance",
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old finished jobs and close drained campaigns",
	Long:  "Deletes completed and failed jobs past the retention window and closes campaigns from earlier days that have no pending or in-flight emails left.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		days := cleanupDays
		if days <= 0 {
			days = cfg.Runner.RetentionDays
		}
		r := queue.NewRunner(st, queue.Config{Retention: time.Duration(days) * 24 * time.Hour})

		n, err := r.Cleanup(ctx)
		if err != nil {
			return err
		}
		today := time.Now().UTC().Truncate(24 * time.Hour)
		closed, err := st.CloseDrainedCampaigns(ctx, today)
		if err != nil {
			return err
		}

		zap.L().Info("job cleanup complete",
			zap.Int64("deleted", n),
			zap.Int("retention_days", days),
			zap.Int64("campaigns_closed", closed),
		)
		return nil
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.CountJobs(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), counts)
	},
}

func init() {
	jobsCleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention in days (default from config)")
	jobsCmd.AddCommand(jobsCleanupCmd, jobsStatusCmd)
	rootCmd.AddCommand(jobsCmd)
}
