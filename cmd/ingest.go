package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/scoring"
	"github.com/sells-group/prospect-outreach/internal/signal"
)

var (
	ingestIndustries []string
	ingestRegions    []string
	ingestMax        int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Discover, store and score prospects from the signal source",
	Long:  "Reads candidates from the configured crawler export or operator list, upserts them by website and scores them under the active model.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := bootstrapModel(ctx, st); err != nil {
			return err
		}

		src, closeSrc, err := initSource()
		if err != nil {
			return err
		}
		defer closeSrc()

		criteria := signal.Criteria{
			Industries: cfg.Signal.Industries,
			Regions:    cfg.Signal.Regions,
			MaxResults: cfg.Signal.MaxResults,
		}
		if len(ingestIndustries) > 0 {
			criteria.Industries = ingestIndustries
		}
		if len(ingestRegions) > 0 {
			criteria.Regions = ingestRegions
		}
		if ingestMax > 0 {
			criteria.MaxResults = ingestMax
		}

		in := signal.NewIngester(src, st, scoring.NewEngine(st, nil))
		res, err := in.Run(ctx, criteria)
		if err != nil {
			return err
		}

		zap.L().Info("ingest complete",
			zap.String("source", res.Source),
			zap.Int("discovered", res.Discovered),
			zap.Int("invalid", res.Invalid),
			zap.Int("duplicates", res.Duplicates),
			zap.Int64("upserted", res.Upserted),
			zap.Int("scored", res.Scored),
			zap.Int("errors", len(res.Errors)),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringSliceVar(&ingestIndustries, "industry", nil, "only ingest these industries (default from config)")
	ingestCmd.Flags().StringSliceVar(&ingestRegions, "region", nil, "only ingest these regions (default from config)")
	ingestCmd.Flags().IntVar(&ingestMax, "max", 0, "maximum candidates to read (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
