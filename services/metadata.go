package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"storefront-service/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedField marks a metadata value that is not valid JSON of the
	// expected shape. The field is treated as absent.
	ErrMalformedField = errors.New("malformed metadata field")
	// ErrInvalidCartItem marks a cart list containing at least one entry that
	// fails validation. The whole list is discarded.
	ErrInvalidCartItem = errors.New("invalid cart item")
)

// CheckoutDetails is the validated view of a completed checkout session.
type CheckoutDetails struct {
	SessionID     string
	OrderRef      string
	OrderID       *uint
	CustomerEmail string
	Address       *models.ShippingAddress
	Items         []models.CartItem
	// ItemsPresent reports whether the session carried a cart list at all,
	// valid or not.
	ItemsPresent bool
	Total        decimal.Decimal
	ShippingCost decimal.Decimal
	Problems     []error
}

// ParseCheckoutSession decodes the session object of a payment-completed
// event. It only fails when the object itself cannot be read; problems with
// individual fields are collected in Problems and the field is left empty.
func ParseCheckoutSession(raw []byte) (*CheckoutDetails, error) {
	if len(raw) == 0 {
		return nil, errors.New("checkout session object is empty")
	}

	var sess models.CheckoutSession
	details := &CheckoutDetails{}
	if err := json.Unmarshal(raw, &sess); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		details.Problems = append(details.Problems, fmt.Errorf("%w: %s: %v", ErrMalformedField, typeErr.Field, err))
	}

	details.SessionID = sess.ID
	details.Total = CentsToAmount(sess.AmountTotal)
	details.CustomerEmail = customerEmail(&sess)

	meta := sess.Metadata
	details.OrderRef = strings.TrimSpace(meta[models.MetaOrderID])
	if details.OrderRef == "" {
		details.OrderRef = strings.TrimSpace(sess.ClientReferenceID)
	}
	if details.OrderRef != "" {
		if id, err := strconv.ParseUint(details.OrderRef, 10, 64); err == nil && id > 0 {
			oid := uint(id)
			details.OrderID = &oid
		} else {
			details.Problems = append(details.Problems, fmt.Errorf("%w: order reference %q is not an order id", ErrMalformedField, details.OrderRef))
		}
	}

	if s := strings.TrimSpace(meta[models.MetaShippingAddress]); s != "" {
		addr, err := parseShippingAddress(s)
		if err != nil {
			details.Problems = append(details.Problems, err)
		}
		details.Address = addr
	}

	if s := strings.TrimSpace(meta[models.MetaCartItems]); s != "" {
		details.ItemsPresent = true
		items, err := parseCartItems(s)
		if err != nil {
			details.Problems = append(details.Problems, err)
		}
		details.Items = items
	}

	switch {
	case sess.ShippingCost != nil && sess.ShippingCost.AmountTotal != nil:
		details.ShippingCost = CentsToAmount(sess.ShippingCost.AmountTotal)
	case strings.TrimSpace(meta[models.MetaShippingCost]) != "":
		cost, err := parseShippingCost(meta[models.MetaShippingCost])
		if err != nil {
			details.Problems = append(details.Problems, err)
		}
		details.ShippingCost = cost
	}

	return details, nil
}

func customerEmail(sess *models.CheckoutSession) string {
	candidates := []string{sess.CustomerEmail, sess.Metadata[models.MetaCustomerEmail]}
	if sess.CustomerDetails != nil {
		candidates = append([]string{sess.CustomerDetails.Email}, candidates...)
	}
	for _, c := range candidates {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			return c
		}
	}
	return ""
}

func parseShippingAddress(s string) (*models.ShippingAddress, error) {
	var addr models.ShippingAddress
	if err := json.Unmarshal([]byte(s), &addr); err != nil {
		return nil, fmt.Errorf("%w: shipping_address: %v", ErrMalformedField, err)
	}
	if addr == (models.ShippingAddress{}) {
		return nil, nil
	}
	return &addr, nil
}

// parseShippingCost accepts either the breakdown object or a bare minor-unit
// number.
func parseShippingCost(s string) (decimal.Decimal, error) {
	var breakdown models.ShippingCostMeta
	if err := json.Unmarshal([]byte(s), &breakdown); err == nil {
		return CentsToAmount(breakdown.Amount), nil
	}
	if v, ok := numberValue(json.RawMessage(s)); ok {
		return CentsToAmount(&v), nil
	}
	return decimal.Zero, fmt.Errorf("%w: shipping_cost: %q", ErrMalformedField, s)
}

func parseCartItems(s string) ([]models.CartItem, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &entries); err != nil {
		return nil, fmt.Errorf("%w: cart_items: %v", ErrMalformedField, err)
	}

	items := make([]models.CartItem, 0, len(entries))
	for i, e := range entries {
		if e == nil {
			return nil, fmt.Errorf("%w: entry %d is null", ErrInvalidCartItem, i)
		}
		local, ok := integerValue(e["id"])
		if !ok {
			return nil, fmt.Errorf("%w: entry %d: id is not numeric", ErrInvalidCartItem, i)
		}
		variant, ok := integerValue(e["printful_variant_id"])
		if !ok {
			return nil, fmt.Errorf("%w: entry %d: printful_variant_id is not numeric", ErrInvalidCartItem, i)
		}
		qty, ok := integerValue(e["quantity"])
		if !ok || qty <= 0 || qty > math.MaxInt32 {
			return nil, fmt.Errorf("%w: entry %d: quantity must be a positive number", ErrInvalidCartItem, i)
		}

		price := decimal.Zero
		if v, ok := numberValue(e["price"]); ok {
			if v < 0 {
				return nil, fmt.Errorf("%w: entry %d: negative price", ErrInvalidCartItem, i)
			}
			price = decimal.NewFromFloat(v).Round(2)
		}

		items = append(items, models.CartItem{
			LocalVariantID:       local,
			FulfillmentVariantID: variant,
			Quantity:             int(qty),
			Price:                price,
			Name:                 stringValue(e["name"]),
			SKU:                  stringValue(e["sku"]),
		})
	}
	return items, nil
}

// numberValue reads a finite JSON number or numeric string.
func numberValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func integerValue(raw json.RawMessage) (int64, bool) {
	f, ok := numberValue(raw)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func stringValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
