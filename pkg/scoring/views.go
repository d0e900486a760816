// Package scoring derives the report views shown around a confirmation:
// score bands, the important-reports list, history search, dashboard stats,
// and the analysis chart series.
package scoring

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carescore/platform/pkg/common/models"
)

type Band string

const (
	BandGood    Band = "good"
	BandWarning Band = "warning"
	BandBad     Band = "bad"
)

var bandLabels = map[Band]string{
	BandGood:    "Excellent Health",
	BandWarning: "Needs Attention",
	BandBad:     "Critical Attention",
}

func (b Band) Label() string {
	return bandLabels[b]
}

func (t Thresholds) Band(score float64) Band {
	switch {
	case score >= t.Good:
		return BandGood
	case score < t.Bad:
		return BandBad
	default:
		return BandWarning
	}
}

// ImportantReport is a report flagged for follow-up.
type ImportantReport struct {
	ReportID  string  `json:"report_id"`
	Date      string  `json:"date"`
	CareScore float64 `json:"care_score"`
	MainIssue string  `json:"main_issue"`
}

// ImportantReports keeps analysed reports scoring below the important threshold, in
// input order. Reports without a score are never important.
func (t Thresholds) ImportantReports(reports []models.Report) []ImportantReport {
	out := []ImportantReport{}
	for _, r := range reports {
		score, ok := r.CareScore()
		if !ok || score >= t.Important {
			continue
		}
		issue := "Requires review"
		if len(r.AnalysisData.Deviations) > 0 {
			issue = r.AnalysisData.Deviations[0]
		}
		out = append(out, ImportantReport{
			ReportID:  r.ID,
			Date:      r.CreatedAt.DisplayDate(),
			CareScore: score,
			MainIssue: issue,
		})
	}
	return out
}

// HistoryEntry is one row of the history list.
type HistoryEntry struct {
	ReportID  string   `json:"report_id"`
	Date      string   `json:"date"`
	Status    string   `json:"status"`
	Analyzed  bool     `json:"analyzed"`
	CareScore *float64 `json:"care_score"`
	Band      Band     `json:"band,omitempty"`
}

func (t Thresholds) History(reports []models.Report) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(reports))
	for _, r := range reports {
		e := HistoryEntry{
			ReportID: r.ID,
			Date:     r.CreatedAt.DisplayDate(),
			Status:   strings.Replace(r.Status, "_", " ", 1),
			Analyzed: r.Status == models.ReportStatusAnalyzed,
		}
		if score, ok := r.CareScore(); ok {
			e.CareScore = &score
			e.Band = t.Band(score)
		}
		out = append(out, e)
	}
	return out
}

// Filter matches query case-insensitively against the display date and the
// raw extraction text. A kind other than "all" (or empty) must also occur in
// the raw extraction text.
func Filter(reports []models.Report, query, kind string) []models.Report {
	query = strings.ToLower(strings.TrimSpace(query))
	kind = strings.ToLower(strings.TrimSpace(kind))

	out := []models.Report{}
	for _, r := range reports {
		date := strings.ToLower(r.CreatedAt.DisplayDate())
		raw := rawText(r.RawData)

		if query != "" && !strings.Contains(date, query) && !strings.Contains(raw, query) {
			continue
		}
		if kind != "" && kind != "all" && !strings.Contains(raw, kind) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func rawText(raw *models.RawExtraction) string {
	if raw == nil {
		return `""`
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(b))
}

type Activity struct {
	ReportID  string  `json:"report_id"`
	Date      string  `json:"date"`
	CareScore float64 `json:"care_score"`
	Status    string  `json:"status"`
	Class     string  `json:"class"`
}

type Summary struct {
	TotalReports int        `json:"total_reports"`
	LatestScore  string     `json:"latest_score"`
	TrackingDays int        `json:"tracking_days"`
	Trend        string     `json:"trend"`
	Recent       []Activity `json:"recent"`
}

// Summarize computes the dashboard stats as of now.
func (t Thresholds) Summarize(reports []models.Report, now time.Time) Summary {
	sorted := make([]models.Report, len(reports))
	copy(sorted, reports)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt.Time)
	})

	s := Summary{
		TotalReports: len(reports),
		LatestScore:  "N/A",
		Trend:        "-",
		Recent:       []Activity{},
	}
	if len(sorted) == 0 {
		return s
	}
	if score, ok := sorted[0].CareScore(); ok {
		s.LatestScore = formatScore(score)
	}
	oldest := sorted[len(sorted)-1].CreatedAt.Time
	if !oldest.IsZero() {
		if days := math.Ceil(now.Sub(oldest).Hours() / 24); days > 0 {
			s.TrackingDays = int(days)
		}
	}
	if len(reports) > 1 {
		s.Trend = "+1"
	}

	for i, r := range sorted {
		if i == 3 {
			break
		}
		score, _ := r.CareScore()
		a := Activity{
			ReportID:  r.ID,
			Date:      r.CreatedAt.DisplayDate(),
			CareScore: score,
			Status:    "Neutral",
			Class:     "neutral",
		}
		switch {
		case score >= t.Good:
			a.Status, a.Class = "Good", "good"
		case score < t.Attention:
			a.Status, a.Class = "Attention", "improve"
		}
		s.Recent = append(s.Recent, a)
	}
	return s
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// Series is a labelled set of numeric test values.
type Series struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// Metric is one confirmed value for the detail list.
type Metric struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ChartSeries extracts the numeric test values of confirmed data. Structured
// data contributes its tests; flat data contributes every numeric field.
func ChartSeries(confirmed *models.RawExtraction) Series {
	s := Series{Labels: []string{}, Values: []float64{}}
	for _, m := range Metrics(confirmed) {
		num, err := strconv.ParseFloat(strings.TrimSpace(m.Value), 64)
		if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
			continue
		}
		s.Labels = append(s.Labels, m.Label)
		s.Values = append(s.Values, num)
	}
	return s
}

// Metrics lists confirmed values with display labels.
func Metrics(confirmed *models.RawExtraction) []Metric {
	out := []Metric{}
	if confirmed == nil {
		return out
	}
	if !confirmed.Structured {
		for _, f := range confirmed.Flat {
			out = append(out, Metric{Label: displayLabel(f.Key), Value: f.Value})
		}
		return out
	}
	for _, test := range confirmed.Tests {
		out = append(out, Metric{Label: displayLabel(test.TestName), Value: test.Value})
	}
	return out
}

func displayLabel(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

// Analysis is the analysis view of one report.
type Analysis struct {
	ReportID    string   `json:"report_id"`
	CareScore   float64  `json:"care_score"`
	Band        Band     `json:"band"`
	BandLabel   string   `json:"band_label"`
	Explanation string   `json:"explanation"`
	Deviations  []string `json:"deviations"`
	Chart       Series   `json:"chart"`
	Metrics     []Metric `json:"metrics"`
	PDFURL      string   `json:"pdf_url,omitempty"`
}

const pendingExplanation = "Analysis pending... please refresh in a moment."

func (t Thresholds) Analyze(r models.Report) Analysis {
	a := Analysis{
		ReportID:    r.ID,
		Explanation: pendingExplanation,
		Deviations:  []string{},
		Chart:       ChartSeries(r.ConfirmedData),
		Metrics:     Metrics(r.ConfirmedData),
	}
	if score, ok := r.CareScore(); ok {
		a.CareScore = score
	}
	a.Band = t.Band(a.CareScore)
	a.BandLabel = a.Band.Label()
	if r.AnalysisData != nil {
		if r.AnalysisData.Explanation != "" {
			a.Explanation = r.AnalysisData.Explanation
		}
		if len(r.AnalysisData.Deviations) > 0 {
			a.Deviations = r.AnalysisData.Deviations
		}
	}
	return a
}
