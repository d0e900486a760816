package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ConfirmationRecord{})
}

// Create stores rec. A record whose event id is already stored is skipped, so
// redelivered events are harmless.
func (r *Repository) Create(ctx context.Context, rec *ConfirmationRecord) error {
	rec.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(rec).Error
}

func (r *Repository) ListByReport(ctx context.Context, reportID string) ([]ConfirmationRecord, error) {
	var recs []ConfirmationRecord
	err := r.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("confirmed_at desc").
		Find(&recs).Error
	return recs, err
}
