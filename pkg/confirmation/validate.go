package confirmation

import (
	"math"
	"strconv"
	"strings"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/models"
)

const (
	msgIncompleteRows = "Please complete all fields or delete empty rows."
	msgNonNumeric     = "Test values must be numbers."
	msgNoTestData     = "Please add at least one test result."
)

// TestName derives the submitted test identifier from a display name:
// lower-cased, with whitespace runs collapsed to a single underscore.
func TestName(display string) string {
	return strings.ToLower(strings.Join(strings.Fields(display), "_"))
}

// ValidateAndSerialize checks every row and projects the form into the
// submission payload. Every offending row is reported, not just the first.
// Rows with every cell blank are dropped silently. The form is not modified.
func (f *Form) ValidateAndSerialize() (models.ConfirmedSubmission, error) {
	rows := f.Rows()

	data := models.ConfirmedData{
		Lab:     map[string]string{},
		Patient: map[string]string{},
		Tests:   []models.TestResult{},
	}
	var faults []apperrors.RowFault
	partial := false

	// keepText admits a non-numeric value as a string.
	addTest := func(id, name, value, unit string, rr *string, keepText bool) {
		if name == "" && value == "" {
			return
		}
		if name == "" || value == "" {
			faults = append(faults, apperrors.RowFault{RowID: id, Kind: apperrors.KindPartialField})
			partial = true
			return
		}
		coerced, ok := f.coerce(value)
		if !ok && keepText {
			coerced, ok = value, true
		}
		if !ok {
			faults = append(faults, apperrors.RowFault{RowID: id, Kind: apperrors.KindNonNumericValue})
			return
		}
		data.Tests = append(data.Tests, models.TestResult{
			TestName:       TestName(name),
			Value:          coerced,
			Unit:           unit,
			ReferenceRange: rr,
		})
	}

	for _, row := range rows {
		switch row.Kind {
		case models.RowKeyValue:
			ns, name := models.SplitKey(strings.TrimSpace(row.Key))
			name = strings.TrimSpace(name)
			value := strings.TrimSpace(row.Value)
			if ns == "" {
				// Flat extraction fields are name/value results; text values
				// such as a blood group pass through unchanged.
				addTest(row.ID, name, value, "", nil, true)
				continue
			}
			if name == "" && value == "" {
				continue
			}
			if name == "" || value == "" {
				faults = append(faults, apperrors.RowFault{RowID: row.ID, Kind: apperrors.KindPartialField})
				partial = true
				continue
			}
			if ns == models.NamespaceLab {
				data.Lab[name] = value
			} else {
				data.Patient[name] = value
			}
		case models.RowTest:
			var rr *string
			if row.ReferenceRange != nil {
				if trimmed := strings.TrimSpace(*row.ReferenceRange); trimmed != "" {
					rr = &trimmed
				}
			}
			addTest(row.ID, strings.TrimSpace(row.Name), strings.TrimSpace(row.Value), strings.TrimSpace(row.Unit), rr, false)
		}
	}

	if len(faults) > 0 {
		msg := msgNonNumeric
		if partial {
			msg = msgIncompleteRows
		}
		return models.ConfirmedSubmission{}, &apperrors.Error{
			Kind:    apperrors.KindFieldErrors,
			Message: msg,
			Rows:    faults,
		}
	}
	if len(data.Tests) == 0 {
		return models.ConfirmedSubmission{}, apperrors.New(apperrors.KindNoTestData, msgNoTestData)
	}

	return models.ConfirmedSubmission{ReportID: f.reportID, ConfirmedData: data}, nil
}

func (f *Form) coerce(value string) (interface{}, bool) {
	num, err := strconv.ParseFloat(value, 64)
	if err == nil && !math.IsNaN(num) && !math.IsInf(num, 0) {
		return num, true
	}
	if f.policy.LenientValues {
		return value, true
	}
	return nil, false
}
