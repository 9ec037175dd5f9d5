package repository

import (
	"context"
	"strings"

	"storefront-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormOrderRepo struct {
	db *gorm.DB
}

func (r *gormOrderRepo) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *gormOrderRepo) FindLatestPendingByEmail(ctx context.Context, email string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("LOWER(customer_email) = ? AND status = ?", strings.ToLower(email), models.StatusPending).
		Order("created_at DESC").
		First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *gormOrderRepo) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Items").Create(order).Error
}

func (r *gormOrderRepo) ApplyPayment(ctx context.Context, id uint, u PaymentUpdate) error {
	updates := map[string]interface{}{
		"status":        u.Status,
		"total":         u.Total,
		"shipping_cost": u.ShippingCost,
		"paid_at":       u.PaidAt,
	}
	if u.CustomerEmail != "" {
		updates["customer_email"] = u.CustomerEmail
	}
	if u.CheckoutSessionID != "" {
		updates["checkout_session_id"] = u.CheckoutSessionID
	}
	if len(u.ShippingAddress) > 0 {
		updates["shipping_address"] = u.ShippingAddress
	}

	res := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceItems deletes every item of the order and inserts items in their
// place. An empty items slice leaves the order without items.
func (r *gormOrderRepo) ReplaceItems(ctx context.Context, orderID uint, items []models.OrderItem) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].OrderID = orderID
	}
	return db.Create(&items).Error
}

func (r *gormOrderRepo) AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *gormOrderRepo) SetFulfillmentOrderID(ctx context.Context, id uint, fulfillmentOrderID string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("fulfillment_order_id", fulfillmentOrderID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormOrderRepo) UpdateStatus(ctx context.Context, id uint, status models.OrderStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormOrderRepo) FindAwaitingFulfillment(ctx context.Context, statuses []models.OrderStatus, afterID uint, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("fulfillment_order_id IS NOT NULL AND fulfillment_order_id <> ''").
		Where("status IN ?", statuses).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
