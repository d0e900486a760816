package confirmation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/carescore/platform/pkg/common/models"
	"github.com/google/uuid"
)

// Field names accepted by EditCell.
type Field string

const (
	FieldKey            Field = "key"
	FieldName           Field = "name"
	FieldValue          Field = "value"
	FieldUnit           Field = "unit"
	FieldReferenceRange Field = "reference_range"
)

var (
	ErrRowNotFound  = errors.New("row not found")
	ErrNotEditable  = errors.New("row is not editable")
	ErrUnknownField = errors.New("unknown field")
)

// Policy controls how test values are checked on submit.
type Policy struct {
	// LenientValues passes non-numeric test values through as strings
	// instead of rejecting them.
	LenientValues bool
}

type Option func(*Form)

func WithPolicy(p Policy) Option {
	return func(f *Form) { f.policy = p }
}

func WithIDs(fn func() string) Option {
	return func(f *Form) {
		if fn != nil {
			f.newID = fn
		}
	}
}

// Form is the editable row set of one confirmation session. All mutations are
// serialized through its mutex.
type Form struct {
	mu       sync.Mutex
	reportID string
	rows     []models.Row
	newID    func() string
	policy   Policy
}

func NewForm(reportID string, rows []models.Row, opts ...Option) *Form {
	f := &Form{
		reportID: reportID,
		rows:     cloneRows(rows),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Form) ReportID() string {
	return f.reportID
}

// Rows returns a copy of the current rows in display order.
func (f *Form) Rows() []models.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRows(f.rows)
}

// AddRow appends a blank row of the requested kind and returns it.
func (f *Form) AddRow(kind models.RowKind) models.Row {
	if kind != models.RowKeyValue {
		kind = models.RowTest
	}
	row := models.Row{ID: f.newID(), Kind: kind}

	f.mu.Lock()
	f.rows = append(f.rows, row)
	f.mu.Unlock()
	return row
}

// RemoveRow deletes the row with the given id. Unknown ids are ignored.
func (f *Form) RemoveRow(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rows {
		if r.ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return
		}
	}
}

// EditCell updates one cell in place. Values are not validated until submit.
func (f *Form) EditCell(id string, field Field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := -1
	for i, r := range f.rows {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrRowNotFound, id)
	}
	row := &f.rows[idx]

	switch row.Kind {
	case models.RowKeyValue:
		switch field {
		case FieldKey:
			ns, _ := models.SplitKey(row.Key)
			if typedNS, _ := models.SplitKey(value); typedNS == "" {
				value = models.JoinKey(ns, value)
			}
			row.Key = value
		case FieldValue:
			row.Value = value
		default:
			return fmt.Errorf("%w: %s on key/value row", ErrUnknownField, field)
		}
	case models.RowTest:
		switch field {
		case FieldName:
			row.Name = value
		case FieldValue:
			row.Value = value
		case FieldUnit:
			row.Unit = value
		case FieldReferenceRange:
			if strings.TrimSpace(value) == "" {
				row.ReferenceRange = nil
			} else {
				v := value
				row.ReferenceRange = &v
			}
		default:
			return fmt.Errorf("%w: %s on test row", ErrUnknownField, field)
		}
	default:
		return fmt.Errorf("%w: %s", ErrNotEditable, id)
	}
	return nil
}

func cloneRows(rows []models.Row) []models.Row {
	out := make([]models.Row, len(rows))
	for i, r := range rows {
		if r.ReferenceRange != nil {
			v := *r.ReferenceRange
			r.ReferenceRange = &v
		}
		out[i] = r
	}
	return out
}
