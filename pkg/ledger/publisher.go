package ledger

import (
	"context"

	"github.com/carescore/platform/pkg/common/models"
)

// EventWriter is the write side of the event bus.
type EventWriter interface {
	PublishEvent(ctx context.Context, key, eventType, source string, data map[string]interface{}) error
}

// EventPublisher announces accepted submissions as report.confirmed events,
// keyed by report id.
type EventPublisher struct {
	writer EventWriter
}

func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

func (p *EventPublisher) PublishConfirmed(ctx context.Context, userID string, sub models.ConfirmedSubmission) error {
	return p.writer.PublishEvent(ctx, sub.ReportID, EventReportConfirmed, SourceConfirmGateway, map[string]interface{}{
		"report_id":      sub.ReportID,
		"user_id":        userID,
		"confirmed_data": sub.ConfirmedData,
		"test_count":     len(sub.ConfirmedData.Tests),
	})
}
