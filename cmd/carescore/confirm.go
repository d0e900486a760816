package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/carescore/platform/pkg/confirmation"
	"github.com/carescore/platform/pkg/submission"
	"github.com/spf13/cobra"
)

type confirmFlags struct {
	set     []string
	units   []string
	ranges  []string
	remove  []string
	manual  bool
	lenient bool
	dryRun  bool
}

func newConfirmCmd(opts *cliOptions) *cobra.Command {
	f := &confirmFlags{}

	cmd := &cobra.Command{
		Use:   "confirm <report-id>",
		Short: "Review, correct and submit the values extracted from a report",
		Long: `Loads the extracted values of a report, applies the corrections given as
flags and submits the result for analysis.

  carescore confirm rep-1 --set hemoglobin=13.2 --unit hemoglobin=g/dL --remove "lab.name"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfirm(cmd, opts, f, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&f.set, "set", nil, "set a value, name=value; unknown names add a test row")
	flags.StringArrayVar(&f.units, "unit", nil, "set the unit of a test, name=unit")
	flags.StringArrayVar(&f.ranges, "range", nil, "set the reference range of a test, name=range")
	flags.StringArrayVar(&f.remove, "remove", nil, "remove the row with this name")
	flags.BoolVar(&f.manual, "manual", false, "enter values manually when AI auto-fill is unavailable")
	flags.BoolVar(&f.lenient, "lenient", false, "accept non-numeric test values")
	flags.BoolVar(&f.dryRun, "dry-run", false, "show the corrected form without submitting")
	return cmd
}

func runConfirm(cmd *cobra.Command, opts *cliOptions, f *confirmFlags, reportID string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ctrl := submission.New(opts.client(), reportID,
		submission.WithUserID(opts.userID),
		submission.WithPolicy(confirmation.Policy{LenientValues: f.lenient}),
	)
	if err := ctrl.Load(ctx); err != nil {
		if !f.manual || !errors.Is(err, apperrors.ErrQuotaExhausted) {
			return err
		}
		if err := ctrl.StartManualEntry(); err != nil {
			return err
		}
	}

	if err := applyEdits(ctrl, f); err != nil {
		return err
	}

	st := ctrl.Status()
	if st.Notice != "" {
		fmt.Fprintf(out, "Note: %s\n", st.Notice)
	}
	if f.dryRun {
		if opts.asJSON {
			return printJSON(out, submission.Render(st))
		}
		return printRows(out, st.Rows, nil)
	}

	if _, err := ctrl.Confirm(ctx); err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && len(appErr.Rows) > 0 {
			printRows(out, ctrl.Status().Rows, appErr.RowIDs())
		}
		return err
	}

	view := submission.Render(ctrl.Status())
	if opts.asJSON {
		return printJSON(out, view)
	}
	fmt.Fprintf(out, "%s Next: %s\n", view.Message, view.Next)
	return nil
}

func applyEdits(ctrl *submission.Controller, f *confirmFlags) error {
	for _, name := range f.remove {
		row, ok := findRow(ctrl.Status().Rows, name)
		if !ok {
			return fmt.Errorf("no row named %q", name)
		}
		if err := ctrl.RemoveRow(row.ID); err != nil {
			return err
		}
	}

	for _, pair := range f.set {
		name, value, err := splitPair("--set", pair)
		if err != nil {
			return err
		}
		row, ok := findRow(ctrl.Status().Rows, name)
		if !ok {
			if row, err = ctrl.AddRow(models.RowTest); err != nil {
				return err
			}
			if err := ctrl.EditCell(row.ID, confirmation.FieldName, name); err != nil {
				return err
			}
		}
		if err := ctrl.EditCell(row.ID, confirmation.FieldValue, value); err != nil {
			return err
		}
	}

	for _, edit := range []struct {
		flag  string
		field confirmation.Field
		pairs []string
	}{
		{"--unit", confirmation.FieldUnit, f.units},
		{"--range", confirmation.FieldReferenceRange, f.ranges},
	} {
		for _, pair := range edit.pairs {
			name, value, err := splitPair(edit.flag, pair)
			if err != nil {
				return err
			}
			row, ok := findRow(ctrl.Status().Rows, name)
			if !ok {
				return fmt.Errorf("no row named %q", name)
			}
			if err := ctrl.EditCell(row.ID, edit.field, value); err != nil {
				return fmt.Errorf("%s %s: %w", edit.flag, name, err)
			}
		}
	}
	return nil
}

func splitPair(flag, pair string) (string, string, error) {
	name, value, ok := strings.Cut(pair, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("%s expects name=value, got %q", flag, pair)
	}
	return strings.TrimSpace(name), value, nil
}

// findRow matches test rows by name and key/value rows by key, ignoring case
// and the spaces/underscores difference.
func findRow(rows []models.Row, name string) (models.Row, bool) {
	want := confirmation.TestName(name)
	for _, r := range rows {
		switch r.Kind {
		case models.RowTest:
			if confirmation.TestName(r.Name) == want {
				return r, true
			}
		case models.RowKeyValue:
			if confirmation.TestName(r.Key) == want || confirmation.TestName(r.DisplayKey()) == want {
				return r, true
			}
		}
	}
	return models.Row{}, false
}

func printRows(w io.Writer, rows []models.Row, invalid []string) error {
	bad := make(map[string]bool, len(invalid))
	for _, id := range invalid {
		bad[id] = true
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tVALUE\tUNIT\tRANGE")
	for _, r := range rows {
		mark := ""
		if bad[r.ID] {
			mark = "!"
		}
		switch r.Kind {
		case models.RowSection:
			fmt.Fprintf(tw, "\t[%s]\t\t\t\n", r.Title)
		case models.RowKeyValue:
			fmt.Fprintf(tw, "%s\t%s\t%s\t\t\n", mark, r.DisplayKey(), r.Value)
		default:
			rr := ""
			if r.ReferenceRange != nil {
				rr = *r.ReferenceRange
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, r.Name, r.Value, r.Unit, rr)
		}
	}
	return tw.Flush()
}
