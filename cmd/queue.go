package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
)

var (
	queueLimit  int
	queueInline bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Daily queue commands",
}

var queueDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Trigger today's daily prospect queue",
	Long:  "Enqueues the daily_prospect_queue job at most once per UTC day. With --inline the queue is built immediately in this process instead; repeated runs still never exceed the daily limit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if queueLimit < 0 {
			return eris.New("--limit must be >= 0")
		}

		env, err := initApp(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if queueInline {
			res, err := env.Queue.Run(ctx, model.DailyQueuePayload{DailyLimit: queueLimit})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}

		job, created, err := env.Daily.Fire(ctx, queueLimit)
		if err != nil {
			return err
		}
		if !created {
			zap.L().Info("daily queue already triggered today")
			return nil
		}
		zap.L().Info("daily queue job enqueued", zap.String("job_id", job.ID))
		return nil
	},
}

func init() {
	queueDailyCmd.Flags().IntVar(&queueLimit, "limit", 0, "override outreach.daily_limit (0 uses config)")
	queueDailyCmd.Flags().BoolVar(&queueInline, "inline", false, "build the queue now instead of enqueueing a job")
	queueCmd.AddCommand(queueDailyCmd)
	rootCmd.AddCommand(queueCmd)
}
