package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	StatusPending      OrderStatus = "pending"
	StatusPaid         OrderStatus = "paid"
	StatusInProduction OrderStatus = "in_production"
	StatusShipped      OrderStatus = "shipped"
	StatusCanceled     OrderStatus = "canceled"
	StatusUnknown      OrderStatus = "unknown"
)

// progress orders the forward lifecycle. Statuses outside the chain
// (canceled, unknown) have no rank.
var progress = map[OrderStatus]int{
	StatusPending:      0,
	StatusPaid:         1,
	StatusInProduction: 2,
	StatusShipped:      3,
}

// AdvanceStatus returns the status an order should hold after target is
// assigned to an order currently in current. Forward moves always win; a move
// backwards along pending -> paid -> in_production -> shipped is a no-op, a
// shipped order cannot be canceled, and canceled is terminal.
func AdvanceStatus(current, target OrderStatus) OrderStatus {
	if current == StatusCanceled {
		return current
	}
	if target == StatusCanceled {
		if current == StatusShipped {
			return current
		}
		return target
	}
	cr, cok := progress[current]
	tr, tok := progress[target]
	if cok && tok && cr > tr {
		return current
	}
	return target
}

type Order struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	CustomerEmail      string          `gorm:"type:varchar(255);index;not null;default:''" json:"customer_email"`
	Status             OrderStatus     `gorm:"type:varchar(20);index;not null;default:'pending'" json:"status"`
	Total              decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"total"`
	ShippingCost       decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"shipping_cost"`
	ShippingAddress    datatypes.JSON  `gorm:"type:jsonb" json:"shipping_address,omitempty"`
	CheckoutSessionID  *string         `gorm:"type:varchar(255);index" json:"checkout_session_id,omitempty"`
	FulfillmentOrderID *string         `gorm:"type:varchar(64)" json:"fulfillment_order_id,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Items              []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	OrderID              uint            `gorm:"index;not null" json:"order_id"`
	VariantID            int64           `gorm:"not null" json:"variant_id"`
	FulfillmentVariantID int64           `gorm:"not null" json:"fulfillment_variant_id"`
	Quantity             int             `gorm:"not null" json:"quantity"`
	PriceAtPurchase      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price_at_purchase"`
	Meta                 datatypes.JSON  `gorm:"type:jsonb" json:"meta,omitempty"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (OrderItem) TableName() string { return "order_items" }

// OrderStatusHistory is append-only. OldStatus is empty for orders created by
// the assignment itself.
type OrderStatusHistory struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	OrderID   uint        `gorm:"index;not null" json:"order_id"`
	OldStatus OrderStatus `gorm:"type:varchar(20)" json:"old_status"`
	NewStatus OrderStatus `gorm:"type:varchar(20);not null" json:"new_status"`
	Source    string      `gorm:"type:varchar(32)" json:"source"`
	EventID   string      `gorm:"type:varchar(255)" json:"event_id,omitempty"`
	ChangedAt time.Time   `gorm:"not null;index" json:"changed_at"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }

// History sources
const (
	SourceStripeWebhook   = "stripe_webhook"
	SourceFulfillmentSync = "fulfillment_sync"
)
