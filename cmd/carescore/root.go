package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/carescore/platform/pkg/common/config"
	"github.com/carescore/platform/pkg/reportapi"
	"github.com/carescore/platform/pkg/scoring"
	"github.com/spf13/cobra"
)

// cliOptions are the flags shared by every command.
type cliOptions struct {
	apiURL     string
	token      string
	userID     string
	timeout    time.Duration
	attempts   int
	asJSON     bool
	thresholds string
}

func (o *cliOptions) client() *reportapi.Client {
	return reportapi.New(o.apiURL, o.timeout,
		reportapi.WithToken(o.token),
		reportapi.WithAttempts(o.attempts),
	)
}

func (o *cliOptions) loadThresholds() (scoring.Thresholds, error) {
	return scoring.LoadThresholds(o.thresholds)
}

func (o *cliOptions) requireUser() error {
	if o.userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "carescore",
		Short:         "Upload, confirm and review lab reports",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", cfg.ReportAPIBaseURL, "report API base URL")
	flags.StringVar(&opts.token, "token", cfg.ReportAPIToken, "bearer token for the report API")
	flags.StringVar(&opts.userID, "user", "", "user id owning the reports")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout (0 disables)")
	flags.IntVar(&opts.attempts, "attempts", cfg.ReportAPIAttempts, "attempts for read requests")
	flags.BoolVar(&opts.asJSON, "json", false, "print JSON instead of tables")
	flags.StringVar(&opts.thresholds, "thresholds", cfg.ScoringConfigPath, "scoring thresholds YAML file")

	root.AddCommand(
		newUploadCmd(opts),
		newConfirmCmd(opts),
		newHistoryCmd(opts),
		newImportantCmd(opts),
		newDashboardCmd(opts),
		newAnalysisCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
