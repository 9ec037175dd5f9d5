package models

import "github.com/shopspring/decimal"

// Metadata keys set on the checkout session by the storefront.
const (
	MetaOrderID         = "order_id"
	MetaCustomerEmail   = "customer_email"
	MetaShippingAddress = "shipping_address"
	MetaCartItems       = "cart_items"
	MetaShippingCost    = "shipping_cost"
)

// CheckoutSession is the subset of the gateway's checkout session object the
// reconciler reads. Amounts are minor units; null decodes to nil.
type CheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       *float64          `json:"amount_total"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   *CustomerDetails  `json:"customer_details"`
	ShippingCost      *SessionShipping  `json:"shipping_cost"`
	Metadata          map[string]string `json:"metadata"`
}

type CustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type SessionShipping struct {
	AmountTotal *float64 `json:"amount_total"`
}

// ShippingCostMeta is the optional breakdown stored under the shipping_cost
// metadata key.
type ShippingCostMeta struct {
	Amount *float64 `json:"amount"`
	Name   string   `json:"name"`
	RateID string   `json:"rate_id"`
}

// ShippingAddress is the recipient stored under the shipping_address metadata
// key and persisted on the order.
type ShippingAddress struct {
	Name        string `json:"name" validate:"required"`
	Address1    string `json:"address1" validate:"required"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city" validate:"required"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code" validate:"required,len=2"`
	Zip         string `json:"zip" validate:"required"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
}

// CartItem is one validated entry of the cart_items metadata list.
type CartItem struct {
	LocalVariantID       int64
	FulfillmentVariantID int64
	Quantity             int
	Price                decimal.Decimal
	Name                 string
	SKU                  string
}

// DraftOrderRequest is what the fulfillment provider receives.
type DraftOrderRequest struct {
	ExternalID string
	Recipient  ShippingAddress
	Items      []FulfillmentItem
}

type FulfillmentItem struct {
	VariantID   int64
	Quantity    int
	RetailPrice decimal.Decimal
	Name        string
}

// FulfillmentOrder is the provider's view of a placed order.
type FulfillmentOrder struct {
	ID         string
	ExternalID string
	Status     string
}
