package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and seed the scoring model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m, err := bootstrapModel(ctx, st)
		if err != nil {
			return err
		}

		zap.L().Info("migration complete", zap.Int("active_model_version", m.Version))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
