// Package ledger keeps an audit trail of confirmed report submissions fed
// from the event bus.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/common/models"
	"github.com/carescore/platform/pkg/observability/metrics"
	"github.com/carescore/platform/pkg/redact"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var ErrMalformedEvent = errors.New("malformed confirmation event")

// RecordStore is the persistence the ledger needs; *Repository implements it.
type RecordStore interface {
	Create(ctx context.Context, rec *ConfirmationRecord) error
	ListByReport(ctx context.Context, reportID string) ([]ConfirmationRecord, error)
}

type Service struct {
	repo     RecordStore
	redactor *redact.Redactor
}

type ServiceOption func(*Service)

// WithRedactor masks lab and patient details before they are stored.
func WithRedactor(r *redact.Redactor) ServiceOption {
	return func(s *Service) { s.redactor = r }
}

func NewService(repo RecordStore, opts ...ServiceOption) *Service {
	s := &Service{repo: repo}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type confirmedPayload struct {
	ReportID      string               `json:"report_id"`
	UserID        string               `json:"user_id"`
	ConfirmedData models.ConfirmedData `json:"confirmed_data"`
}

// HandleEvent stores report.confirmed events and ignores every other type.
// Malformed events are logged and dropped so they do not block the partition.
func (s *Service) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != EventReportConfirmed {
		metrics.RecordLedgerEvent("ignored")
		return nil
	}

	rec, err := s.recordFromEvent(event)
	if err != nil {
		metrics.RecordLedgerEvent("dropped")
		logger.Log.WithError(err).WithField("event_id", event.ID).Error("dropping confirmation event")
		return nil
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		metrics.RecordLedgerEvent("failed")
		return fmt.Errorf("persisting confirmation for report %s: %w", rec.ReportID, err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"report_id":  rec.ReportID,
		"test_count": rec.TestCount,
	}).Info("confirmation recorded")
	metrics.RecordLedgerEvent("recorded")
	return nil
}

func (s *Service) List(ctx context.Context, reportID string) ([]ConfirmationRecord, error) {
	return s.repo.ListByReport(ctx, reportID)
}

func (s *Service) recordFromEvent(event models.Event) (*ConfirmationRecord, error) {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	var payload confirmedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if payload.ReportID == "" {
		return nil, fmt.Errorf("%w: missing report_id", ErrMalformedEvent)
	}

	tests, err := json.Marshal(payload.ConfirmedData.Tests)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	confirmedAt := event.Timestamp.UTC()
	if confirmedAt.IsZero() {
		confirmedAt = time.Now().UTC()
	}
	eventID := event.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	lab, labHits := s.redactor.Fields(payload.ConfirmedData.Lab)
	patient, patientHits := s.redactor.Fields(payload.ConfirmedData.Patient)
	if len(labHits)+len(patientHits) > 0 {
		logger.Log.WithFields(map[string]interface{}{
			"event_id":  eventID,
			"report_id": payload.ReportID,
			"lab":       labHits,
			"patient":   patientHits,
		}).Info("masked identifiers in confirmation")
	}

	return &ConfirmationRecord{
		ID:          uuid.NewString(),
		EventID:     eventID,
		ReportID:    payload.ReportID,
		UserID:      payload.UserID,
		Lab:         toJSONMap(lab),
		Patient:     toJSONMap(patient),
		Tests:       datatypes.JSON(tests),
		TestCount:   len(payload.ConfirmedData.Tests),
		ConfirmedAt: confirmedAt,
	}, nil
}

func toJSONMap(m map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range m {
		out[k] = v
	}
	return out
}
