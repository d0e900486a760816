package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/carescore/platform/pkg/scoring"
	"github.com/spf13/cobra"
)

func (o *cliOptions) history(cmd *cobra.Command) ([]models.Report, scoring.Thresholds, error) {
	if err := o.requireUser(); err != nil {
		return nil, scoring.Thresholds{}, err
	}
	t, err := o.loadThresholds()
	if err != nil {
		return nil, scoring.Thresholds{}, err
	}
	reports, err := o.client().ListHistory(cmd.Context(), o.userID)
	return reports, t, err
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var query, kind string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List uploaded reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, t, err := opts.history(cmd)
			if err != nil {
				return err
			}
			entries := t.History(scoring.Filter(reports, query, kind))
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REPORT\tDATE\tSTATUS\tSCORE")
			for _, e := range entries {
				score := "-"
				if e.CareScore != nil {
					score = fmt.Sprintf("%.0f (%s)", *e.CareScore, e.Band)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ReportID, e.Date, e.Status, score)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "match date or extracted text")
	cmd.Flags().StringVar(&kind, "type", "all", "only reports mentioning this test type")
	return cmd
}

func newImportantCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "important",
		Short: "List analysed reports that need attention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, t, err := opts.history(cmd)
			if err != nil {
				return err
			}
			important := t.ImportantReports(reports)
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), important)
			}
			if len(important) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No reports need attention.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REPORT\tDATE\tSCORE\tMAIN ISSUE")
			for _, r := range important {
				fmt.Fprintf(tw, "%s\t%s\t%.0f\t%s\n", r.ReportID, r.Date, r.CareScore, r.MainIssue)
			}
			return tw.Flush()
		},
	}
}

func newDashboardCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Summarise tracked reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, t, err := opts.history(cmd)
			if err != nil {
				return err
			}
			summary := t.Summarize(reports, time.Now())
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, summary)
			}

			fmt.Fprintf(out, "Reports: %d  Latest score: %s  Tracking: %d days  Trend: %s\n",
				summary.TotalReports, summary.LatestScore, summary.TrackingDays, summary.Trend)
			for _, a := range summary.Recent {
				fmt.Fprintf(out, "  %s  %s  %.0f  %s\n", a.Date, a.ReportID, a.CareScore, a.Status)
			}
			return nil
		},
	}
}

func newAnalysisCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analysis <report-id>",
		Short: "Show the analysis of a confirmed report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := opts.loadThresholds()
			if err != nil {
				return err
			}
			client := opts.client()
			report, err := client.FetchReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if report == nil {
				return apperrors.New(apperrors.KindNoDataExtracted, "Report not found.")
			}

			analysis := t.Analyze(*report)
			analysis.PDFURL = client.PDFURL(args[0])
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, analysis)
			}

			fmt.Fprintf(out, "CareScore %.0f: %s\n", analysis.CareScore, analysis.BandLabel)
			fmt.Fprintln(out, analysis.Explanation)
			if len(analysis.Deviations) > 0 {
				fmt.Fprintf(out, "Deviations: %s\n", strings.Join(analysis.Deviations, "; "))
			}
			for _, m := range analysis.Metrics {
				fmt.Fprintf(out, "  %s: %s\n", m.Label, m.Value)
			}
			fmt.Fprintf(out, "PDF: %s\n", analysis.PDFURL)
			return nil
		},
	}
}
