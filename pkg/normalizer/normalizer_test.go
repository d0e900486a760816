package normalizer

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/carescore/platform/pkg/common/models"
)

func sequentialIDs() IDFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("row-%d", n)
	}
}

func decode(t *testing.T, payload string) models.RawExtraction {
	t.Helper()
	var raw models.RawExtraction
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("decode raw extraction: %v", err)
	}
	return raw
}

func editable(rows []models.Row) []models.Row {
	var out []models.Row
	for _, r := range rows {
		if r.Kind != models.RowSection {
			out = append(out, r)
		}
	}
	return out
}

func TestNormalizeFlatOneRowPerField(t *testing.T) {
	raw := decode(t, `{"total_cholesterol":"190","hemoglobin":"13.5"}`)
	rows := NewWithIDs(sequentialIDs()).Normalize(raw)

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Kind != models.RowKeyValue || rows[0].Key != "total_cholesterol" || rows[0].Value != "190" {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[0].DisplayKey() != "total cholesterol" {
		t.Fatalf("expected display key with spaces, got %q", rows[0].DisplayKey())
	}
	if rows[1].ID != "row-2" {
		t.Fatalf("expected sequential id, got %s", rows[1].ID)
	}
}

func TestNormalizeStructuredSectionOrder(t *testing.T) {
	raw := decode(t, `{
		"tests":[{"test_name":"hemoglobin","value":"13.5","unit":"g/dL"},{"test_name":"ldl","value":"120"}],
		"patient":{"age":"34"},
		"lab":{"name":"CityLab"}
	}`)
	rows := New().Normalize(raw)

	var titles []string
	for _, r := range rows {
		if r.Kind == models.RowSection {
			titles = append(titles, r.Title)
		}
	}
	if fmt.Sprint(titles) != fmt.Sprint([]string{SectionLab, SectionPatient, SectionTests}) {
		t.Fatalf("unexpected section order %v", titles)
	}

	fields := editable(rows)
	if len(fields) != 4 {
		t.Fatalf("expected 4 editable rows, got %d", len(fields))
	}
	if fields[0].Key != "lab.name" || fields[1].Key != "patient.age" {
		t.Fatalf("expected namespaced keys, got %q and %q", fields[0].Key, fields[1].Key)
	}
	var tests int
	for _, r := range fields {
		if r.Kind == models.RowTest {
			tests++
		}
	}
	if tests != 2 {
		t.Fatalf("expected 2 test rows, got %d", tests)
	}
	if fields[2].Name != "hemoglobin" || fields[2].Unit != "g/dL" || fields[3].Name != "ldl" {
		t.Fatalf("test rows out of order: %+v", fields[2:])
	}
}

func TestNormalizeScenarioThreeSections(t *testing.T) {
	raw := decode(t, `{"lab":{"name":"CityLab"},"patient":{"age":"34"},"tests":[{"test_name":"hemoglobin","value":"13.5","unit":"g/dL"}]}`)
	rows := New().Normalize(raw)

	if len(rows) != 6 {
		t.Fatalf("expected 3 sections and 3 rows, got %d rows", len(rows))
	}
	if len(editable(rows)) != 3 {
		t.Fatalf("expected 3 editable rows")
	}
}

func TestNormalizeEmptyYieldsBlankRow(t *testing.T) {
	rows := New().Normalize(decode(t, `{}`))
	if len(rows) != 1 {
		t.Fatalf("expected a single blank row, got %d", len(rows))
	}
	if rows[0].Kind != models.RowTest || rows[0].Name != "" || rows[0].Value != "" {
		t.Fatalf("expected blank test row, got %+v", rows[0])
	}

	rows = New().Normalize(models.RawExtraction{})
	if len(rows) != 1 {
		t.Fatalf("expected a blank row for zero value extraction")
	}
}

func TestNormalizeEmptyTestsKeepsSlot(t *testing.T) {
	rows := New().Normalize(decode(t, `{"lab":{"name":"CityLab"},"tests":[]}`))
	fields := editable(rows)
	if len(fields) != 2 {
		t.Fatalf("expected lab row plus blank test row, got %d", len(fields))
	}
	if fields[1].Kind != models.RowTest || fields[1].Name != "" {
		t.Fatalf("expected trailing blank test row, got %+v", fields[1])
	}
}

func TestNormalizeEmptyGroupKeepsSection(t *testing.T) {
	rows := NewWithIDs(sequentialIDs()).Normalize(decode(t, `{"lab":{},"tests":[{"test_name":"hb","value":"13"}]}`))
	if len(rows) != 3 {
		t.Fatalf("expected lab section, tests section and one test, got %+v", rows)
	}
	if rows[0].Kind != models.RowSection || rows[0].Title != SectionLab {
		t.Fatalf("expected empty lab group to keep its section, got %+v", rows[0])
	}
	if rows[1].Title != SectionTests || rows[2].Name != "hb" {
		t.Fatalf("unexpected rows %+v", rows[1:])
	}
	for _, r := range rows {
		if r.Title == SectionPatient {
			t.Fatal("absent patient group must not get a section")
		}
	}
}

func TestNormalizeDoesNotAliasReferenceRange(t *testing.T) {
	raw := decode(t, `{"tests":[{"test_name":"ldl","value":"120","reference_range":"< 100"}]}`)
	rows := New().Normalize(raw)
	row := editable(rows)[0]
	*row.ReferenceRange = "changed"
	if *raw.Tests[0].ReferenceRange != "< 100" {
		t.Fatal("normalized row must not share reference range with the extraction")
	}
}
