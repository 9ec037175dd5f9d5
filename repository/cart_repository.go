package repository

import (
	"context"
	"strings"
	"time"

	"storefront-service/models"

	"gorm.io/gorm"
)

type gormCartRepo struct {
	db *gorm.DB
}

func (r *gormCartRepo) MarkRecoveredBySession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	newest := r.db.Model(&models.AbandonedCart{}).
		Select("id").
		Where("checkout_session_id = ? AND is_recovered = ?", sessionID, false).
		Order("created_at DESC").
		Limit(1)
	return r.markRecovered(ctx, newest, at)
}

func (r *gormCartRepo) MarkRecoveredByEmail(ctx context.Context, email string, since, at time.Time) (bool, error) {
	newest := r.db.Model(&models.AbandonedCart{}).
		Select("id").
		Where("LOWER(customer_email) = ? AND is_recovered = ? AND created_at >= ?", strings.ToLower(email), false, since).
		Order("created_at DESC").
		Limit(1)
	return r.markRecovered(ctx, newest, at)
}

func (r *gormCartRepo) markRecovered(ctx context.Context, subquery *gorm.DB, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.AbandonedCart{}).
		Where("id = (?)", subquery).
		Updates(map[string]interface{}{
			"is_recovered": true,
			"recovered_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormCartRepo) FindReminderCandidates(ctx context.Context, idleBefore, createdAfter time.Time, limit int) ([]models.AbandonedCart, error) {
	var carts []models.AbandonedCart
	err := r.db.WithContext(ctx).
		Where("is_recovered = ? AND reminder_sent_at IS NULL", false).
		Where("created_at < ? AND created_at >= ?", idleBefore, createdAfter).
		Order("created_at ASC").
		Limit(limit).
		Find(&carts).Error
	return carts, err
}

func (r *gormCartRepo) MarkReminded(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.AbandonedCart{}).
		Where("id = ? AND reminder_sent_at IS NULL", id).
		Update("reminder_sent_at", at).Error
}
