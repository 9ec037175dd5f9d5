package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ProcessedEvent is the idempotency record for inbound gateway events. One row
// per distinct event id.
type ProcessedEvent struct {
	EventID    string         `gorm:"type:varchar(255);primaryKey" json:"event_id"`
	EventType  string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ReceivedAt time.Time      `gorm:"not null;index" json:"received_at"`
	Payload    datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }

type AbandonedCart struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	CustomerEmail     string         `gorm:"type:varchar(255);index;not null" json:"customer_email"`
	CartSnapshot      datatypes.JSON `gorm:"type:jsonb" json:"cart_snapshot,omitempty"`
	IsRecovered       bool           `gorm:"not null;default:false;index" json:"is_recovered"`
	RecoveredAt       *time.Time     `json:"recovered_at,omitempty"`
	CheckoutSessionID *string        `gorm:"type:varchar(255);index" json:"checkout_session_id,omitempty"`
	ReminderSentAt    *time.Time     `json:"reminder_sent_at,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AbandonedCart) TableName() string { return "abandoned_carts" }

// EventOrderPaid is the type of OrderPaidEvent.
const EventOrderPaid = "order_paid"

// OrderPaidEvent is published once an order reaches paid through a webhook.
type OrderPaidEvent struct {
	Type          string          `json:"type"` // "order_paid"
	OrderID       uint            `json:"order_id"`
	CustomerEmail string          `json:"customer_email"`
	Total         decimal.Decimal `json:"total"`
	ShippingCost  decimal.Decimal `json:"shipping_cost"`
	EventID       string          `json:"event_id"`
	Created       bool            `json:"created"`
	Timestamp     time.Time       `json:"timestamp"`
}
