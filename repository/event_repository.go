package repository

import (
	"context"
	"time"

	"storefront-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormEventRepo struct {
	db *gorm.DB
}

func (r *gormEventRepo) Record(ctx context.Context, event *models.ProcessedEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormEventRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&models.ProcessedEvent{})
	return res.RowsAffected, res.Error
}
