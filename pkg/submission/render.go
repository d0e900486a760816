package submission

import (
	"net/url"

	"github.com/carescore/platform/pkg/common/apperrors"
	"github.com/carescore/platform/pkg/common/models"
)

type Severity string

const (
	SeverityNone    Severity = ""
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// View tells a client what to display for a session.
type View struct {
	State            State        `json:"state"`
	ShowOverlay      bool         `json:"show_overlay"`
	ShowForm         bool         `json:"show_form"`
	ConfirmEnabled   bool         `json:"confirm_enabled"`
	Rows             []models.Row `json:"rows"`
	InvalidRows      []string     `json:"invalid_rows,omitempty"`
	Message          string       `json:"message,omitempty"`
	Severity         Severity     `json:"severity,omitempty"`
	CanRetry         bool         `json:"can_retry"`
	CanEnterManually bool         `json:"can_enter_manually"`
	Next             string       `json:"next,omitempty"`
}

var defaultMessages = map[apperrors.Kind]string{
	apperrors.KindMissingReportID: "No report selected.",
	apperrors.KindNetwork:         "Server connection error.",
	apperrors.KindBackendRejected: "Failed to load report data.",
	apperrors.KindQuotaExhausted:  "AI auto-fill unavailable. Please enter values manually.",
	apperrors.KindNoDataExtracted: "No data was extracted from this report.",
	apperrors.KindEmptySubmission: "Please add at least one test result.",
}

// AnalysisPath is where a client goes once a report is submitted.
func AnalysisPath(reportID string) string {
	return "/analysis?id=" + url.QueryEscape(reportID)
}

// Render maps a session status to display instructions. It has no side
// effects.
func Render(st Status) View {
	v := View{
		State: st.State,
		Rows:  st.Rows,
	}
	if v.Rows == nil {
		v.Rows = []models.Row{}
	}

	switch st.State {
	case StateIdle, StateLoading:
		v.ShowOverlay = st.State == StateLoading
		v.Rows = []models.Row{}
		v.Message = "Loading report data..."
		v.Severity = SeverityInfo

	case StateReady:
		v.ShowForm = true
		v.ConfirmEnabled = true
		if st.Notice != "" {
			v.Message = st.Notice
			v.Severity = SeverityWarning
		}

	case StateLoadError:
		// a failed load never shows rows, even stale ones
		v.Rows = []models.Row{}
		v.Severity = SeverityError
		v.Message = message(st.Err)
		if st.Err != nil && st.Err.Kind == apperrors.KindQuotaExhausted {
			v.Severity = SeverityWarning
			v.CanEnterManually = true
		} else {
			v.CanRetry = st.Err == nil || st.Err.Kind != apperrors.KindMissingReportID
		}

	case StateSubmitting:
		v.ShowOverlay = true
		v.ShowForm = true
		v.Message = "Analyzing your report..."
		v.Severity = SeverityInfo

	case StateSubmitted:
		v.Rows = []models.Row{}
		v.Message = "Report confirmed."
		v.Severity = SeveritySuccess
		v.Next = AnalysisPath(st.ReportID)

	case StateSubmitError:
		v.ShowForm = true
		v.ConfirmEnabled = true
		v.Message = message(st.Err)
		v.Severity = SeverityError
		if st.Err != nil && st.Err.Kind == apperrors.KindQuotaExhausted {
			v.Severity = SeverityWarning
		} else {
			v.CanRetry = true
		}
	}

	if st.Validation != nil && (st.State == StateReady || st.State == StateSubmitError) {
		v.Message = st.Validation.Message
		v.Severity = SeverityError
		v.InvalidRows = st.Validation.RowIDs()
	}
	return v
}

func message(err *apperrors.Error) string {
	if err == nil {
		return "Something went wrong."
	}
	if err.Message != "" {
		return err.Message
	}
	if msg, ok := defaultMessages[err.Kind]; ok {
		return msg
	}
	return "Something went wrong."
}
