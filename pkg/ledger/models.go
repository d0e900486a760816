package ledger

import (
	"time"

	"gorm.io/datatypes"
)

const (
	EventReportConfirmed = "report.confirmed"
	SourceConfirmGateway = "confirm-gateway"
)

// ConfirmationRecord is one accepted submission as stored by the ledger.
type ConfirmationRecord struct {
	ID          string            `json:"id" gorm:"primaryKey;column:id"`
	EventID     string            `json:"event_id" gorm:"column:event_id;uniqueIndex"`
	ReportID    string            `json:"report_id" gorm:"column:report_id;index"`
	UserID      string            `json:"user_id,omitempty" gorm:"column:user_id;index"`
	Lab         datatypes.JSONMap `json:"lab" gorm:"column:lab"`
	Patient     datatypes.JSONMap `json:"patient" gorm:"column:patient"`
	Tests       datatypes.JSON    `json:"tests" gorm:"column:tests"`
	TestCount   int               `json:"test_count" gorm:"column:test_count"`
	ConfirmedAt time.Time         `json:"confirmed_at" gorm:"column:confirmed_at"`
	CreatedAt   time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (ConfirmationRecord) TableName() string {
	return "report_confirmations"
}
