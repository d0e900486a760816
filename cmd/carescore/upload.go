package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/carescore/platform/pkg/reportapi"
	"github.com/carescore/platform/pkg/upload"
	"github.com/spf13/cobra"
)

func newUploadCmd(opts *cliOptions) *cobra.Command {
	var maxBytes int64

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a PDF or image report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			svc := upload.NewService(upload.NewValidator(nil, maxBytes), opts.client())
			res, err := svc.Process(cmd.Context(), opts.userID, reportapi.UploadFile{
				Name: filepath.Base(args[0]),
				Data: data,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "Uploaded report %s\n", res.ReportID)
			if res.Notice != "" {
				fmt.Fprintf(out, "Note: %s\n", res.Notice)
			}
			fmt.Fprintf(out, "Next: carescore confirm %s\n", res.ReportID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&maxBytes, "max-bytes", upload.DefaultMaxBytes, "largest accepted document")
	return cmd
}
