package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storefront-service/models"
	awspkg "storefront-service/pkg/aws"
	"storefront-service/providers"
	"storefront-service/repository"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// EventCheckoutCompleted is the only event type that mutates orders.
const EventCheckoutCompleted stripe.EventType = "checkout.session.completed"

// DefaultCartRecoveryWindow bounds the email fallback of cart recovery.
const DefaultCartRecoveryWindow = 30 * 24 * time.Hour

// DefaultPostCommitTimeout bounds fulfillment dispatch and publishing.
const DefaultPostCommitTimeout = 30 * time.Second

// StepStatus reports how a best-effort step of the reconciliation ended.
type StepStatus string

const (
	StepSkipped StepStatus = "skipped"
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result describes what one Reconcile call did.
type Result struct {
	EventID        string
	EventType      string
	Outcome        Outcome
	OrderID        uint
	OrderCreated   bool
	PreviousStatus models.OrderStatus
	Status         models.OrderStatus
	ItemsWritten   int

	Gate         StepStatus
	History      StepStatus
	CartRecovery StepStatus
	Fulfillment  StepStatus
	Publish      StepStatus

	// Problems lists metadata fields that were dropped as malformed.
	Problems []error
}

// MetricsRecorder is satisfied by *awspkg.MetricsClient.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

type ReconcilerConfig struct {
	FulfillmentEnabled bool
	CartRecoveryWindow time.Duration
	SNSTopicArn        string
	// PostCommitTimeout bounds the steps that run after the order commits.
	PostCommitTimeout time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// Reconciler turns verified payment events into order state. Each distinct
// event id mutates orders at most once.
type Reconciler struct {
	store       repository.Store
	fulfillment providers.FulfillmentProvider
	snsClient   awspkg.SNSPublisher
	metrics     MetricsRecorder
	validate    *validator.Validate
	cfg         ReconcilerConfig
	logger      *zap.Logger
}

// NewReconciler creates a Reconciler. fulfillment, snsClient and metrics may
// be nil.
func NewReconciler(
	store repository.Store,
	fulfillment providers.FulfillmentProvider,
	snsClient awspkg.SNSPublisher,
	metrics MetricsRecorder,
	cfg ReconcilerConfig,
	logger *zap.Logger,
) *Reconciler {
	if cfg.CartRecoveryWindow <= 0 {
		cfg.CartRecoveryWindow = DefaultCartRecoveryWindow
	}
	if cfg.PostCommitTimeout <= 0 {
		cfg.PostCommitTimeout = DefaultPostCommitTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:       store,
		fulfillment: fulfillment,
		snsClient:   snsClient,
		metrics:     metrics,
		validate:    validator.New(),
		cfg:         cfg,
		logger:      logger,
	}
}

// Reconcile applies event. payload is the verified request body and is kept
// on the idempotency record. A returned error means the order mutation did
// not happen and the gateway should redeliver.
//
// Cancellation of ctx is ignored: once the event is recorded a redelivery is
// a duplicate, so every step must get its chance to run.
func (r *Reconciler) Reconcile(ctx context.Context, event stripe.Event, payload []byte) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	now := r.cfg.Now().UTC()
	res := &Result{
		EventID:      event.ID,
		EventType:    string(event.Type),
		Gate:         StepSkipped,
		History:      StepSkipped,
		CartRecovery: StepSkipped,
		Fulfillment:  StepSkipped,
		Publish:      StepSkipped,
	}
	record := &models.ProcessedEvent{
		EventID:    event.ID,
		EventType:  string(event.Type),
		ReceivedAt: now,
	}
	if json.Valid(payload) {
		record.Payload = datatypes.JSON(payload)
	}
	log := r.logger.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	r.count(ctx, awspkg.MetricWebhookReceived)

	if event.Type != EventCheckoutCompleted {
		res.Outcome = OutcomeIgnored
		r.recordOnly(ctx, record, res, log)
		return res, nil
	}

	details, err := ParseCheckoutSession(sessionObject(event))
	if err != nil {
		log.Error("Checkout session unreadable, event acknowledged without order change", zap.Error(err))
		res.Outcome = OutcomeIgnored
		res.Problems = append(res.Problems, err)
		r.recordOnly(ctx, record, res, log)
		return res, nil
	}
	res.Problems = details.Problems
	for _, p := range details.Problems {
		if errors.Is(p, ErrInvalidCartItem) {
			log.Error("Cart items discarded, order needs manual item remediation", zap.Error(p))
			continue
		}
		log.Warn("Checkout metadata field ignored", zap.Error(p))
	}

	var order *models.Order
	err = r.store.Transaction(ctx, func(tx repository.Store) error {
		first, gateErr := r.recordEvent(ctx, tx, record)
		switch {
		case gateErr != nil:
			res.Gate = StepFailed
			log.Warn("Idempotency record not written, processing anyway", zap.Error(gateErr))
		case !first:
			res.Outcome = OutcomeDuplicate
			return nil
		default:
			res.Gate = StepOK
		}

		o, err := r.applyPayment(ctx, tx, details, res, now, log)
		if err != nil {
			return err
		}
		order = o

		res.History = r.appendHistory(ctx, tx, order.ID, res, now, log)
		res.CartRecovery = r.recoverCart(ctx, tx, details, now, log)
		return nil
	})
	if err != nil {
		r.count(ctx, awspkg.MetricWebhookFailed)
		return nil, fmt.Errorf("reconcile event %s: %w", event.ID, err)
	}

	if res.Outcome == OutcomeDuplicate {
		log.Info("Skipping duplicate webhook event")
		r.count(ctx, awspkg.MetricWebhookDuplicates)
		return res, nil
	}
	res.Outcome = OutcomeProcessed

	if res.OrderCreated {
		r.count(ctx, awspkg.MetricOrdersCreated)
	}
	if res.Status == models.StatusPaid && res.PreviousStatus != models.StatusPaid {
		r.count(ctx, awspkg.MetricOrdersPaid)
	}

	log.Info("Checkout reconciled",
		zap.Uint("order_id", res.OrderID),
		zap.Bool("created", res.OrderCreated),
		zap.String("old_status", string(res.PreviousStatus)),
		zap.String("new_status", string(res.Status)),
		zap.Int("items", res.ItemsWritten),
	)

	postCtx, cancel := context.WithTimeout(ctx, r.cfg.PostCommitTimeout)
	defer cancel()
	res.Fulfillment = r.dispatchFulfillment(postCtx, order, details, log)
	res.Publish = r.publishOrderPaid(postCtx, order, res, now, log)
	return res, nil
}

// recordOnly writes the idempotency record for an event that does not touch
// orders.
func (r *Reconciler) recordOnly(ctx context.Context, record *models.ProcessedEvent, res *Result, log *zap.Logger) {
	first, err := r.store.Events().Record(ctx, record)
	switch {
	case err != nil:
		res.Gate = StepFailed
		log.Warn("Idempotency record not written", zap.Error(err))
	case !first:
		res.Gate = StepOK
		log.Info("Event already recorded")
	default:
		res.Gate = StepOK
		log.Info("Event type not handled, acknowledged")
	}
}

// recordEvent inserts the idempotency record inside its own savepoint so a
// failed insert does not poison the surrounding transaction.
func (r *Reconciler) recordEvent(ctx context.Context, tx repository.Store, record *models.ProcessedEvent) (bool, error) {
	var first bool
	err := tx.Transaction(ctx, func(sp repository.Store) error {
		inserted, err := sp.Events().Record(ctx, record)
		first = inserted
		return err
	})
	return first, err
}

// resolveOrder picks the order a checkout belongs to: the referenced order,
// else the newest pending order for the email. nil means a new order.
func (r *Reconciler) resolveOrder(ctx context.Context, tx repository.Store, d *CheckoutDetails, log *zap.Logger) (*models.Order, error) {
	if d.OrderID != nil {
		order, err := tx.Orders().FindByID(ctx, *d.OrderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find order %d: %w", *d.OrderID, err)
		}
		log.Warn("Referenced order not found, falling back to email match", zap.Uint("order_id", *d.OrderID))
	}

	if d.CustomerEmail != "" {
		order, err := tx.Orders().FindLatestPendingByEmail(ctx, d.CustomerEmail)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find pending order: %w", err)
		}
	}
	return nil, nil
}

func (r *Reconciler) applyPayment(ctx context.Context, tx repository.Store, d *CheckoutDetails, res *Result, now time.Time, log *zap.Logger) (*models.Order, error) {
	order, err := r.resolveOrder(ctx, tx, d, log)
	if err != nil {
		return nil, err
	}

	var address datatypes.JSON
	if d.Address != nil {
		if b, err := json.Marshal(d.Address); err == nil {
			address = b
		}
	}

	if order == nil {
		order = &models.Order{
			CustomerEmail:   d.CustomerEmail,
			Status:          models.StatusPaid,
			Total:           d.Total,
			ShippingCost:    d.ShippingCost,
			ShippingAddress: address,
			PaidAt:          &now,
		}
		if d.SessionID != "" {
			sid := d.SessionID
			order.CheckoutSessionID = &sid
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}
		res.OrderCreated = true
	} else {
		res.PreviousStatus = order.Status
		if order.Status == models.StatusCanceled {
			log.Warn("Payment received for canceled order, status kept, refund needed", zap.Uint("order_id", order.ID))
		}
		update := repository.PaymentUpdate{
			Status:            models.AdvanceStatus(order.Status, models.StatusPaid),
			Total:             d.Total,
			ShippingCost:      d.ShippingCost,
			CheckoutSessionID: d.SessionID,
			ShippingAddress:   address,
			PaidAt:            now,
		}
		if update.ShippingCost.IsZero() {
			update.ShippingCost = order.ShippingCost
		}
		if order.CustomerEmail == "" {
			update.CustomerEmail = d.CustomerEmail
		}
		if order.PaidAt != nil {
			update.PaidAt = *order.PaidAt
		}
		if err := tx.Orders().ApplyPayment(ctx, order.ID, update); err != nil {
			return nil, fmt.Errorf("update order %d: %w", order.ID, err)
		}

		order.Status = update.Status
		order.Total = update.Total
		order.ShippingCost = update.ShippingCost
		order.PaidAt = &update.PaidAt
		if update.CustomerEmail != "" {
			order.CustomerEmail = update.CustomerEmail
		}
		if len(address) > 0 {
			order.ShippingAddress = address
		}
	}
	res.OrderID = order.ID
	res.Status = order.Status

	if d.ItemsPresent {
		items := buildOrderItems(d.Items, res.EventID, now)
		if err := tx.Orders().ReplaceItems(ctx, order.ID, items); err != nil {
			return nil, fmt.Errorf("replace items of order %d: %w", order.ID, err)
		}
		res.ItemsWritten = len(items)
		order.Items = items
	}
	return order, nil
}

func buildOrderItems(cart []models.CartItem, eventID string, now time.Time) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(cart))
	for _, c := range cart {
		meta, _ := json.Marshal(map[string]string{
			"name":     c.Name,
			"sku":      c.SKU,
			"source":   models.SourceStripeWebhook,
			"event_id": eventID,
		})
		items = append(items, models.OrderItem{
			VariantID:            c.LocalVariantID,
			FulfillmentVariantID: c.FulfillmentVariantID,
			Quantity:             c.Quantity,
			PriceAtPurchase:      c.Price,
			Meta:                 meta,
			CreatedAt:            now,
		})
	}
	return items
}

func (r *Reconciler) appendHistory(ctx context.Context, tx repository.Store, orderID uint, res *Result, now time.Time, log *zap.Logger) StepStatus {
	entry := &models.OrderStatusHistory{
		OrderID:   orderID,
		OldStatus: res.PreviousStatus,
		NewStatus: res.Status,
		Source:    models.SourceStripeWebhook,
		EventID:   res.EventID,
		ChangedAt: now,
	}
	err := tx.Transaction(ctx, func(sp repository.Store) error {
		return sp.Orders().AppendHistory(ctx, entry)
	})
	if err != nil {
		log.Warn("Failed to write status history", zap.Uint("order_id", orderID), zap.Error(err))
		return StepFailed
	}
	return StepOK
}

func (r *Reconciler) recoverCart(ctx context.Context, tx repository.Store, d *CheckoutDetails, now time.Time, log *zap.Logger) StepStatus {
	if d.SessionID == "" && d.CustomerEmail == "" {
		return StepSkipped
	}
	var recovered bool
	err := tx.Transaction(ctx, func(sp repository.Store) error {
		var err error
		if d.SessionID != "" {
			if recovered, err = sp.Carts().MarkRecoveredBySession(ctx, d.SessionID, now); err != nil || recovered {
				return err
			}
		}
		if d.CustomerEmail != "" {
			recovered, err = sp.Carts().MarkRecoveredByEmail(ctx, d.CustomerEmail, now.Add(-r.cfg.CartRecoveryWindow), now)
		}
		return err
	})
	if err != nil {
		log.Warn("Failed to mark abandoned cart recovered", zap.Error(err))
		return StepFailed
	}
	if !recovered {
		return StepSkipped
	}
	return StepOK
}

// dispatchFulfillment places a draft order with the fulfillment provider.
// It runs after commit and never changes the reconciliation result.
func (r *Reconciler) dispatchFulfillment(ctx context.Context, order *models.Order, d *CheckoutDetails, log *zap.Logger) StepStatus {
	switch {
	case !r.cfg.FulfillmentEnabled || r.fulfillment == nil:
		return StepSkipped
	case order.FulfillmentOrderID != nil && *order.FulfillmentOrderID != "":
		return StepSkipped
	case order.Status != models.StatusPaid:
		return StepSkipped
	case d.Address == nil || len(d.Items) == 0:
		log.Info("Fulfillment skipped, no shipping address or items", zap.Uint("order_id", order.ID))
		return StepSkipped
	}

	fail := func(msg string, err error) StepStatus {
		log.Error(msg, zap.Uint("order_id", order.ID), zap.Error(err))
		r.count(ctx, awspkg.MetricFulfillmentDispatchFailed)
		return StepFailed
	}

	if err := r.validate.Struct(d.Address); err != nil {
		return fail("Fulfillment recipient invalid", err)
	}

	req := models.DraftOrderRequest{
		ExternalID: strconv.FormatUint(uint64(order.ID), 10),
		Recipient:  *d.Address,
		Items:      make([]models.FulfillmentItem, 0, len(d.Items)),
	}
	if req.Recipient.Email == "" {
		req.Recipient.Email = order.CustomerEmail
	}
	for _, it := range d.Items {
		req.Items = append(req.Items, models.FulfillmentItem{
			VariantID:   it.FulfillmentVariantID,
			Quantity:    it.Quantity,
			RetailPrice: it.Price,
			Name:        it.Name,
		})
	}

	placed, err := r.fulfillment.CreateDraftOrder(ctx, req)
	if err != nil {
		return fail("Fulfillment dispatch failed", err)
	}
	if placed == nil || placed.ID == "" {
		return fail("Fulfillment dispatch failed", errors.New("provider returned no order id"))
	}

	if err := r.store.Orders().SetFulfillmentOrderID(ctx, order.ID, placed.ID); err != nil {
		log.Error("Draft fulfillment order placed but id not saved",
			zap.Uint("order_id", order.ID),
			zap.String("fulfillment_order_id", placed.ID),
			zap.Error(err),
		)
		return StepFailed
	}
	order.FulfillmentOrderID = &placed.ID

	log.Info("Draft fulfillment order placed",
		zap.Uint("order_id", order.ID),
		zap.String("fulfillment_order_id", placed.ID),
	)
	r.count(ctx, awspkg.MetricFulfillmentDispatched)
	return StepOK
}

func (r *Reconciler) publishOrderPaid(ctx context.Context, order *models.Order, res *Result, now time.Time, log *zap.Logger) StepStatus {
	if r.snsClient == nil || r.cfg.SNSTopicArn == "" || order.Status != models.StatusPaid {
		return StepSkipped
	}
	payload, err := json.Marshal(models.OrderPaidEvent{
		Type:          models.EventOrderPaid,
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		Total:         order.Total,
		ShippingCost:  order.ShippingCost,
		EventID:       res.EventID,
		Created:       res.OrderCreated,
		Timestamp:     now,
	})
	if err != nil {
		log.Error("Failed to marshal order event", zap.Error(err))
		return StepFailed
	}
	if err := r.snsClient.Publish(ctx, r.cfg.SNSTopicArn, models.EventOrderPaid, payload); err != nil {
		log.Error("Failed to publish order event to SNS", zap.Uint("order_id", order.ID), zap.Error(err))
		return StepFailed
	}
	log.Info("Order event published to SNS", zap.Uint("order_id", order.ID))
	return StepOK
}

func (r *Reconciler) count(ctx context.Context, metric string) {
	if r.metrics == nil {
		return
	}
	if err := r.metrics.RecordCount(ctx, metric, nil); err != nil {
		r.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}

func sessionObject(event stripe.Event) []byte {
	if event.Data == nil {
		return nil
	}
	return event.Data.Raw
}
