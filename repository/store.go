package repository

import (
	"context"
	"errors"
	"time"

	"storefront-service/models"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// Store groups the repositories that take part in order reconciliation.
// Transaction runs fn against a Store bound to one database transaction; when
// called on a Store that is already transactional it opens a savepoint, so a
// failing nested fn rolls back only its own statements.
type Store interface {
	Events() EventRepository
	Orders() OrderRepository
	Carts() AbandonedCartRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type EventRepository interface {
	// Record inserts the event unless its id is already present. It reports
	// whether this call inserted the row.
	Record(ctx context.Context, event *models.ProcessedEvent) (bool, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PaymentUpdate carries the columns the reconciler writes on an existing order.
type PaymentUpdate struct {
	Status            models.OrderStatus
	Total             decimal.Decimal
	ShippingCost      decimal.Decimal
	CustomerEmail     string
	CheckoutSessionID string
	ShippingAddress   datatypes.JSON
	PaidAt            time.Time
}

type OrderRepository interface {
	// FindByID and FindLatestPendingByEmail lock the returned row for the
	// rest of the surrounding transaction.
	FindByID(ctx context.Context, id uint) (*models.Order, error)
	FindLatestPendingByEmail(ctx context.Context, email string) (*models.Order, error)
	Create(ctx context.Context, order *models.Order) error
	ApplyPayment(ctx context.Context, id uint, update PaymentUpdate) error
	ReplaceItems(ctx context.Context, orderID uint, items []models.OrderItem) error
	AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	SetFulfillmentOrderID(ctx context.Context, id uint, fulfillmentOrderID string) error
	UpdateStatus(ctx context.Context, id uint, status models.OrderStatus) error
	// FindAwaitingFulfillment pages through dispatched orders in the given
	// statuses by ascending id, starting after afterID.
	FindAwaitingFulfillment(ctx context.Context, statuses []models.OrderStatus, afterID uint, limit int) ([]models.Order, error)
}

type AbandonedCartRepository interface {
	// MarkRecoveredBySession flags the newest unrecovered cart for the
	// session. At most one row changes.
	MarkRecoveredBySession(ctx context.Context, sessionID string, at time.Time) (bool, error)
	// MarkRecoveredByEmail flags the newest unrecovered cart for the email
	// created after since. At most one row changes.
	MarkRecoveredByEmail(ctx context.Context, email string, since, at time.Time) (bool, error)
	FindReminderCandidates(ctx context.Context, idleBefore, createdAfter time.Time, limit int) ([]models.AbandonedCart, error)
	MarkReminded(ctx context.Context, id uint, at time.Time) error
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by db.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Events() EventRepository        { return &gormEventRepo{db: s.db} }
func (s *gormStore) Orders() OrderRepository        { return &gormOrderRepo{db: s.db} }
func (s *gormStore) Carts() AbandonedCartRepository { return &gormCartRepo{db: s.db} }

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
