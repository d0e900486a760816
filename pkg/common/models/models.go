package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // report.confirmed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Report statuses reported by the remote API.
const (
	ReportStatusPendingReview = "pending_review"
	ReportStatusAnalyzed      = "analyzed"
)

// Report is a stored health report as returned by the history endpoints.
type Report struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id,omitempty"`
	Status        string         `json:"status,omitempty"`
	CreatedAt     Timestamp      `json:"created_at"`
	RawData       *RawExtraction `json:"raw_data"`
	AnalysisData  *AnalysisData  `json:"analysis_data,omitempty"`
	ConfirmedData *RawExtraction `json:"confirmed_data,omitempty"`
}

// CareScore returns the analysis score, if the report has been analysed.
func (r Report) CareScore() (float64, bool) {
	if r.AnalysisData == nil || r.AnalysisData.CareScore == nil {
		return 0, false
	}
	return *r.AnalysisData.CareScore, true
}

type AnalysisData struct {
	CareScore   *float64 `json:"care_score,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Deviations  []string `json:"deviations,omitempty"`
}

// ReportEnvelope is the response body of GET /history/{id}.
type ReportEnvelope struct {
	Success bool    `json:"success"`
	Data    *Report `json:"data,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// ReportListEnvelope is the response body of GET /history/list.
type ReportListEnvelope struct {
	Success bool     `json:"success"`
	Data    []Report `json:"data"`
	Error   string   `json:"error,omitempty"`
}

// AnalyzeEnvelope is the response body of POST /analysis/analyze.
type AnalyzeEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// UploadResponse is the response body of POST /report/upload.
type UploadResponse struct {
	ReportID string `json:"report_id,omitempty"`
	AIStatus string `json:"ai_status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Backend markers with dedicated handling.
const (
	ErrorQuotaExhausted    = "QUOTA_EXHAUSTED"
	AIStatusQuotaExhausted = "quota_exhausted"
)

// Timestamp accepts the timestamp layouts the report API emits, with or
// without a zone offset.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999Z07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || strings.TrimSpace(s) == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	t.Time = time.Time{}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}

// DisplayDate is the date shown on report cards and matched by history search.
func (t Timestamp) DisplayDate() string {
	if t.IsZero() {
		return ""
	}
	return t.Time.Format("1/2/2006")
}
