package normalizer

import (
	"github.com/carescore/platform/pkg/common/models"
	"github.com/google/uuid"
)

// Section titles shown above each group of a structured extraction.
const (
	SectionLab     = "Lab Details"
	SectionPatient = "Patient Details"
	SectionTests   = "Test Results"
)

// IDFunc issues row identities. Defaults to random UUIDs.
type IDFunc func() string

type Normalizer struct {
	newID IDFunc
}

func New() *Normalizer {
	return &Normalizer{newID: uuid.NewString}
}

// NewWithIDs returns a Normalizer that draws row identities from ids.
func NewWithIDs(ids IDFunc) *Normalizer {
	if ids == nil {
		ids = uuid.NewString
	}
	return &Normalizer{newID: ids}
}

// Normalize converts a raw extraction into the editable row set.
//
// Flat extractions yield one key/value row per field, with the canonical key
// kept. Structured extractions yield the lab, patient and tests groups in that
// order, each preceded by a section row. A present but empty lab or patient
// group still gets its section row. The tests section is always emitted, with
// a blank test row when there are no tests, so the result always contains at
// least one editable row.
func (n *Normalizer) Normalize(raw models.RawExtraction) []models.Row {
	if !raw.Structured {
		return n.normalizeFlat(raw.Flat)
	}

	var rows []models.Row
	if raw.HasLab {
		rows = append(rows, n.section(SectionLab))
		rows = append(rows, n.keyValues(models.NamespaceLab, raw.Lab)...)
	}
	if raw.HasPatient {
		rows = append(rows, n.section(SectionPatient))
		rows = append(rows, n.keyValues(models.NamespacePatient, raw.Patient)...)
	}

	rows = append(rows, n.section(SectionTests))
	if len(raw.Tests) == 0 {
		rows = append(rows, n.BlankRow(models.RowTest))
		return rows
	}
	for _, t := range raw.Tests {
		rows = append(rows, models.Row{
			ID:             n.newID(),
			Kind:           models.RowTest,
			Name:           t.TestName,
			Value:          t.Value,
			Unit:           t.Unit,
			ReferenceRange: copyString(t.ReferenceRange),
		})
	}
	return rows
}

func (n *Normalizer) normalizeFlat(fields []models.Field) []models.Row {
	if len(fields) == 0 {
		return []models.Row{n.BlankRow(models.RowTest)}
	}
	rows := make([]models.Row, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, models.Row{
			ID:    n.newID(),
			Kind:  models.RowKeyValue,
			Key:   f.Key,
			Value: f.Value,
		})
	}
	return rows
}

func (n *Normalizer) keyValues(namespace string, fields []models.Field) []models.Row {
	rows := make([]models.Row, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, models.Row{
			ID:    n.newID(),
			Kind:  models.RowKeyValue,
			Key:   models.JoinKey(namespace, f.Key),
			Value: f.Value,
		})
	}
	return rows
}

func (n *Normalizer) section(title string) models.Row {
	return models.Row{ID: n.newID(), Kind: models.RowSection, Title: title}
}

// BlankRow returns an empty editable row of the given kind.
func (n *Normalizer) BlankRow(kind models.RowKind) models.Row {
	if kind != models.RowKeyValue {
		kind = models.RowTest
	}
	return models.Row{ID: n.newID(), Kind: kind}
}

// NewID issues a fresh row identity.
func (n *Normalizer) NewID() string {
	return n.newID()
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
