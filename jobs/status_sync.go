package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-service/models"
	"storefront-service/providers"
	"storefront-service/repository"

	"go.uber.org/zap"
)

// StatusSyncJob pulls fulfillment status for orders still being produced
// and moves them forward. Each run walks every candidate in id order,
// batchSize orders per query.
type StatusSyncJob struct {
	store     repository.Store
	provider  providers.FulfillmentProvider
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func NewStatusSyncJob(store repository.Store, provider providers.FulfillmentProvider, batchSize int, logger *zap.Logger) *StatusSyncJob {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &StatusSyncJob{store: store, provider: provider, batchSize: batchSize, logger: logger, now: time.Now}
}

func (j *StatusSyncJob) Name() string { return "fulfillment_status_sync" }

func (j *StatusSyncJob) Run(ctx context.Context) (int, error) {
	statuses := []models.OrderStatus{models.StatusPaid, models.StatusInProduction}
	updated := 0
	var afterID uint
	for {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		orders, err := j.store.Orders().FindAwaitingFulfillment(ctx, statuses, afterID, j.batchSize)
		if err != nil {
			return updated, fmt.Errorf("list orders awaiting fulfillment: %w", err)
		}
		updated += j.syncBatch(ctx, orders)
		if len(orders) < j.batchSize {
			return updated, nil
		}
		afterID = orders[len(orders)-1].ID
	}
}

func (j *StatusSyncJob) syncBatch(ctx context.Context, orders []models.Order) int {
	updated := 0
	for _, o := range orders {
		remote, err := j.provider.GetOrder(ctx, *o.FulfillmentOrderID)
		if err != nil {
			j.logger.Warn("Fulfillment status lookup failed",
				zap.Uint("order_id", o.ID),
				zap.String("fulfillment_order_id", *o.FulfillmentOrderID),
				zap.Error(err),
			)
			continue
		}
		target, ok := providers.MapPrintfulStatus(remote.Status)
		if !ok {
			continue
		}
		changed, err := j.advance(ctx, o.ID, target)
		if err != nil {
			j.logger.Error("Failed to apply fulfillment status", zap.Uint("order_id", o.ID), zap.Error(err))
			continue
		}
		if changed {
			updated++
		}
	}
	return updated
}

// advance re-reads the order under lock so a concurrent webhook cannot be
// overwritten, then records the transition.
func (j *StatusSyncJob) advance(ctx context.Context, orderID uint, target models.OrderStatus) (bool, error) {
	changed := false
	err := j.store.Transaction(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		next := models.AdvanceStatus(order.Status, target)
		if next == order.Status {
			return nil
		}
		if err := tx.Orders().UpdateStatus(ctx, orderID, next); err != nil {
			return err
		}
		if err := tx.Orders().AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:   orderID,
			OldStatus: order.Status,
			NewStatus: next,
			Source:    models.SourceFulfillmentSync,
			ChangedAt: j.now().UTC(),
		}); err != nil {
			return err
		}
		changed = true
		j.logger.Info("Order status advanced from fulfillment",
			zap.Uint("order_id", orderID),
			zap.String("old_status", string(order.Status)),
			zap.String("new_status", string(next)),
		)
		return nil
	})
	return changed, err
}
