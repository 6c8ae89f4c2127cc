package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
)

var (
	learnEnqueue  bool
	learnLogLimit int
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Run the feedback learner",
	Long:  "Aggregates conversion outcomes by feature bucket and nudges the adaptive weights. Only one learner runs at a time; a run that finds the lease held exits without changes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "learn")
		if err != nil {
			return err
		}
		defer env.Close()

		if learnEnqueue {
			job, err := env.Runner.Enqueue(ctx, model.JobTypeLearner, nil)
			if err != nil {
				return err
			}
			zap.L().Info("learner job enqueued", zap.String("job_id", job.ID))
			return nil
		}

		res, err := env.Learner.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var learnLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent weight adjustments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListOptimizationLog(ctx, learnLogLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			zap.L().Info("no weight adjustments recorded yet")
			return nil
		}
		formatOptimizationLog(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	learnCmd.Flags().BoolVar(&learnEnqueue, "enqueue", false, "enqueue a feedback_learner job for the worker instead of running now")
	learnLogCmd.Flags().IntVar(&learnLogLimit, "limit", 50, "number of entries to show")
	learnCmd.AddCommand(learnLogCmd)
	rootCmd.AddCommand(learnCmd)
}

// formatOptimizationLog writes weight adjustments newest first.
func formatOptimizationLog(w io.Writer, entries []model.OptimizationLogEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tWEIGHT\tOLD\tNEW\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%s\n",
			e.TriggeredAt.UTC().Format(time.DateTime),
			e.WeightName,
			e.OldValue,
			e.NewValue,
			e.Reason,
		)
	}
	tw.Flush() //nolint:errcheck
}
