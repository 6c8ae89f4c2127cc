package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
)

var (
	reviewMissingOnly bool
	reviewCampaign    string
	reviewLimit       int
	exportOut         string
)

var outreachCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Operator review of drafted emails",
}

var outreachPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		emails, err := listReview(cmd)
		if err != nil {
			return err
		}
		if len(emails) == 0 {
			zap.L().Info("no pending drafts")
			return nil
		}
		formatPending(cmd.OutOrStdout(), emails)
		return nil
	},
}

var outreachExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pending drafts to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOut == "" {
			return eris.New("--out is required")
		}
		emails, err := listReview(cmd)
		if err != nil {
			return err
		}
		if err := writeReviewXLSX(exportOut, emails); err != nil {
			return err
		}
		zap.L().Info("exported drafts", zap.String("path", exportOut), zap.Int("count", len(emails)))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{outreachPendingCmd, outreachExportCmd} {
		c.Flags().BoolVar(&reviewMissingOnly, "missing-only", false, "only drafts without a recipient address")
		c.Flags().StringVar(&reviewCampaign, "campaign", "", "only drafts in this campaign")
		c.Flags().IntVar(&reviewLimit, "limit", 200, "maximum drafts to list")
		outreachCmd.AddCommand(c)
	}
	outreachExportCmd.Flags().StringVar(&exportOut, "out", "", "output .xlsx path")
	rootCmd.AddCommand(outreachCmd)
}

func listReview(cmd *cobra.Command) ([]model.OutreachEmail, error) {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	return st.ListPendingEmails(ctx, store.ReviewFilter{
		MissingOnly: reviewMissingOnly,
		CampaignID:  reviewCampaign,
		Limit:       reviewLimit,
	})
}

// formatPending writes a tabular view of drafts to w.
func formatPending(w io.Writer, emails []model.OutreachEmail) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTO\tSCORE\tHELD\tCREATED\tSUBJECT")
	for _, e := range emails {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			e.ID,
			recipient(e),
			metaString(e.Metadata, "score"),
			e.Held,
			e.CreatedAt.UTC().Format(time.DateTime),
			e.Subject,
		)
	}
	tw.Flush() //nolint:errcheck
}

var reviewHeader = []string{
	"email_id", "campaign_id", "prospect_id", "to", "missing_email", "held",
	"score", "tier", "industry", "region", "language", "subject", "content", "created_at",
}

// writeReviewXLSX writes drafts to a single-sheet workbook, one row each.
func writeReviewXLSX(path string, emails []model.OutreachEmail) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Review")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	addRow(sheet, reviewHeader)
	for _, e := range emails {
		addRow(sheet, []string{
			e.ID,
			e.CampaignID,
			e.ProspectID,
			recipient(e),
			fmt.Sprint(e.MissingEmail),
			fmt.Sprint(e.Held),
			metaString(e.Metadata, "score"),
			metaString(e.Metadata, "tier"),
			metaString(e.Metadata, "industry"),
			metaString(e.Metadata, "region"),
			metaString(e.Metadata, "language"),
			e.Subject,
			e.Content,
			e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}

func recipient(e model.OutreachEmail) string {
	if e.ProspectEmail == nil || *e.ProspectEmail == "" {
		return "-"
	}
	return *e.ProspectEmail
}

func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%.1f", f)
	}
	return fmt.Sprint(v)
}
