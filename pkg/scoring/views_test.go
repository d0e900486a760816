package scoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/carescore/platform/pkg/common/models"
)

func reports(t *testing.T, payload string) []models.Report {
	t.Helper()
	var out []models.Report
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		t.Fatalf("failed to decode reports: %v", err)
	}
	return out
}

const sample = `[
 {"id":"a","status":"analyzed","created_at":"2024-03-10T10:00:00Z","raw_data":{"lab":{"name":"CityLab"},"tests":[{"test_name":"ldl","value":"160"}]},"analysis_data":{"care_score":45,"deviations":["High LDL","Low HDL"]}},
 {"id":"b","status":"analyzed","created_at":"2024-03-01T10:00:00Z","raw_data":{"glucose":"92"},"analysis_data":{"care_score":85}},
 {"id":"c","status":"pending_review","created_at":"2024-02-20T10:00:00Z","raw_data":null},
 {"id":"d","status":"analyzed","created_at":"2024-03-05T10:00:00Z","raw_data":{"thyroid_tsh":"2.1"},"analysis_data":{"care_score":65}}
]`

func TestBand(t *testing.T) {
	th := DefaultThresholds()
	cases := map[float64]Band{100: BandGood, 80: BandGood, 79.9: BandWarning, 50: BandWarning, 49: BandBad, 0: BandBad}
	for score, want := range cases {
		if got := th.Band(score); got != want {
			t.Fatalf("score %v: expected %s, got %s", score, want, got)
		}
	}
	if BandBad.Label() != "Critical Attention" || BandGood.Label() != "Excellent Health" {
		t.Fatal("unexpected band labels")
	}
}

func TestImportant(t *testing.T) {
	got := DefaultThresholds().ImportantReports(reports(t, sample))
	if len(got) != 2 {
		t.Fatalf("expected 2 important reports, got %d", len(got))
	}
	if got[0].ReportID != "a" || got[0].MainIssue != "High LDL" {
		t.Fatalf("unexpected first entry %+v", got[0])
	}
	if got[1].ReportID != "d" || got[1].MainIssue != "Requires review" {
		t.Fatalf("unexpected second entry %+v", got[1])
	}
}

func TestFilter(t *testing.T) {
	all := reports(t, sample)

	if got := Filter(all, "", "all"); len(got) != 4 {
		t.Fatalf("expected no filtering, got %d", len(got))
	}
	if got := Filter(all, "CITYLAB", "all"); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected raw text match on report a, got %v", got)
	}
	if got := Filter(all, "3/1/2024", ""); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected date match on report b, got %v", got)
	}
	if got := Filter(all, "", "thyroid"); len(got) != 1 || got[0].ID != "d" {
		t.Fatalf("expected type match on report d, got %v", got)
	}
	if got := Filter(all, "glucose", "thyroid"); len(got) != 0 {
		t.Fatalf("expected both conditions to apply, got %v", got)
	}
}

func TestHistoryEntries(t *testing.T) {
	got := DefaultThresholds().History(reports(t, sample))
	if got[2].Status != "pending review" || got[2].CareScore != nil || got[2].Analyzed {
		t.Fatalf("unexpected pending entry %+v", got[2])
	}
	if got[1].Band != BandGood {
		t.Fatalf("expected good band, got %s", got[1].Band)
	}
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	s := DefaultThresholds().Summarize(reports(t, sample), now)

	if s.TotalReports != 4 || s.LatestScore != "45" || s.Trend != "+1" {
		t.Fatalf("unexpected summary %+v", s)
	}
	// oldest report is 28 days 23 hours old
	if s.TrackingDays != 29 {
		t.Fatalf("expected 29 tracking days, got %d", s.TrackingDays)
	}
	if len(s.Recent) != 3 {
		t.Fatalf("expected 3 recent activities, got %d", len(s.Recent))
	}
	if s.Recent[0].ReportID != "a" || s.Recent[0].Class != "improve" {
		t.Fatalf("unexpected newest activity %+v", s.Recent[0])
	}
	if s.Recent[1].ReportID != "d" || s.Recent[1].Class != "neutral" {
		t.Fatalf("unexpected second activity %+v", s.Recent[1])
	}
	if s.Recent[2].ReportID != "b" || s.Recent[2].Status != "Good" {
		t.Fatalf("unexpected third activity %+v", s.Recent[2])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := DefaultThresholds().Summarize(nil, time.Now())
	if s.LatestScore != "N/A" || s.Trend != "-" || s.TrackingDays != 0 || len(s.Recent) != 0 {
		t.Fatalf("unexpected empty summary %+v", s)
	}
}

func TestChartSeries(t *testing.T) {
	var structured models.RawExtraction
	if err := json.Unmarshal([]byte(`{"lab":{"name":"CityLab"},"tests":[{"test_name":"total_cholesterol","value":"190"},{"test_name":"blood_group","value":"O+"}]}`), &structured); err != nil {
		t.Fatal(err)
	}
	s := ChartSeries(&structured)
	if len(s.Labels) != 1 || s.Labels[0] != "total cholesterol" || s.Values[0] != 190 {
		t.Fatalf("unexpected series %+v", s)
	}

	var flat models.RawExtraction
	if err := json.Unmarshal([]byte(`{"hemoglobin":13.5,"remarks":"normal"}`), &flat); err != nil {
		t.Fatal(err)
	}
	if s := ChartSeries(&flat); len(s.Values) != 1 || s.Values[0] != 13.5 {
		t.Fatalf("unexpected flat series %+v", s)
	}
	if got := Metrics(&flat); len(got) != 2 {
		t.Fatalf("expected every field in metrics, got %v", got)
	}
	if s := ChartSeries(nil); len(s.Labels) != 0 {
		t.Fatal("expected empty series for missing data")
	}
}

func TestAnalyzePending(t *testing.T) {
	a := DefaultThresholds().Analyze(models.Report{ID: "x"})
	if a.Explanation != pendingExplanation || a.Band != BandBad {
		t.Fatalf("unexpected pending analysis %+v", a)
	}
}

func TestLoadThresholds(t *testing.T) {
	th, err := LoadThresholds("")
	if err != nil || th != DefaultThresholds() {
		t.Fatalf("expected defaults, got %+v %v", th, err)
	}

	path := filepath.Join(t.TempDir(), "scoring.yaml")
	content := "thresholds:\n  good: 85\n  bad: 40\n  important: 65\n  attention: 55\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	th, err = LoadThresholds(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if th.Good != 85 || th.Important != 65 {
		t.Fatalf("unexpected thresholds %+v", th)
	}
	if th.Band(84) != BandWarning {
		t.Fatal("expected loaded good threshold to apply")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("thresholds:\n  good: 40\n  bad: 60\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadThresholds(bad); err == nil {
		t.Fatal("expected inverted thresholds to be rejected")
	}
}
