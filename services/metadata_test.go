package services_test

import (
	"encoding/json"
	"testing"

	"storefront-service/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionJSON(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

func TestParseCheckoutSession_FullMetadata(t *testing.T) {
	raw := sessionJSON(t, map[string]interface{}{
		"id":                  "cs_1",
		"client_reference_id": "42",
		"amount_total":        2599,
		"customer_details":    map[string]string{"email": " Buyer@Example.com "},
		"shipping_cost":       map[string]interface{}{"amount_total": 499},
		"metadata": map[string]string{
			"shipping_address": `{"name":"Ada","address1":"1 Main St","city":"Austin","state_code":"TX","country_code":"US","zip":"78701"}`,
			"cart_items":       `[{"id":7,"printful_variant_id":501,"quantity":2,"price":10,"name":"Tee","sku":"TEE-1"}]`,
		},
	})

	d, err := services.ParseCheckoutSession(raw)
	require.NoError(t, err)
	assert.Empty(t, d.Problems)
	assert.Equal(t, "cs_1", d.SessionID)
	require.NotNil(t, d.OrderID)
	assert.Equal(t, uint(42), *d.OrderID)
	assert.Equal(t, "buyer@example.com", d.CustomerEmail)
	assert.Equal(t, "25.99", d.Total.StringFixed(2))
	assert.Equal(t, "4.99", d.ShippingCost.StringFixed(2))
	require.NotNil(t, d.Address)
	assert.Equal(t, "Austin", d.Address.City)
	assert.True(t, d.ItemsPresent)
	require.Len(t, d.Items, 1)
	assert.Equal(t, int64(7), d.Items[0].LocalVariantID)
	assert.Equal(t, int64(501), d.Items[0].FulfillmentVariantID)
	assert.Equal(t, 2, d.Items[0].Quantity)
	assert.Equal(t, "10.00", d.Items[0].Price.StringFixed(2))
	assert.Equal(t, "TEE-1", d.Items[0].SKU)
}

func TestParseCheckoutSession_MetadataOrderIDWins(t *testing.T) {
	raw := sessionJSON(t, map[string]interface{}{
		"id":                  "cs_2",
		"client_reference_id": "9",
		"metadata":            map[string]string{"order_id": "12"},
	})

	d, err := services.ParseCheckoutSession(raw)
	require.NoError(t, err)
	require.NotNil(t, d.OrderID)
	assert.Equal(t, uint(12), *d.OrderID)
	assert.True(t, d.Total.IsZero())
	assert.False(t, d.ItemsPresent)
}

func TestParseCheckoutSession_EmailFallbacks(t *testing.T) {
	raw := sessionJSON(t, map[string]interface{}{
		"id":       "cs_3",
		"metadata": map[string]string{"customer_email": "Meta@Example.com"},
	})
	d, err := services.ParseCheckoutSession(raw)
	require.NoError(t, err)
	assert.Equal(t, "meta@example.com", d.CustomerEmail)

	raw = sessionJSON(t, map[string]interface{}{
		"id":             "cs_3",
		"customer_email": "top@example.com",
		"metadata":       map[string]string{"customer_email": "meta@example.com"},
	})
	d, err = services.ParseCheckoutSession(raw)
	require.NoError(t, err)
	assert.Equal(t, "top@example.com", d.CustomerEmail)
}

func TestParseCheckoutSession_MalformedFieldsAreAbsent(t *testing.T) {
	raw := sessionJSON(t, map[string]interface{}{
		"id":                  "cs_4",
		"client_reference_id": "abc",
		"amount_total":        1000,
		"metadata": map[string]string{
			"shipping_address": `{not json`,
			"shipping_cost":    `nope`,
		},
	})

	d, err := services.ParseCheckoutSession(raw)
	require.NoError(t, err)
	assert.Nil(t, d.OrderID)
	assert.Equal(t, "abc", d.OrderRef)
	assert.Nil(t, d.Address)
	assert.True(t, d.ShippingCost.IsZero())
	assert.Equal(t, "10.00", d.Total.StringFixed(2))
	require.Len(t, d.Problems, 3)
	for _, p := range d.Problems {
		assert.ErrorIs(t, p, services.ErrMalformedField)
	}
}

func TestParseCheckoutSession_WrongTypedFieldIsAbsent(t *testing.T) {
	raw := []byte(`{"id":"cs_5","amount_total":"lots","customer_email":"a@b.co"}`)

	d, err := services.ParseCheckoutSession(raw)
	require.NoError(t, err)
	assert.True(t, d.Total.IsZero())
	assert.Equal(t, "a@b.co", d.CustomerEmail)
	require.Len(t, d.Problems, 1)
	assert.ErrorIs(t, d.Problems[0], services.ErrMalformedField)
}

func TestParseCheckoutSession_ShippingCostMetadata(t *testing.T) {
	raw := sessionJSON(t, map[string]interface{}{
		"id":       "cs_6",
		"metadata": map[string]string{"shipping_cost": `{"amount":450,"name":"Flat","rate_id":"STANDARD"}`},
	})
	d, err := services.ParseCheckoutSession(raw)
	require.NoError(t, err)
	assert.Equal(t, "4.50", d.ShippingCost.StringFixed(2))

	raw = sessionJSON(t, map[string]interface{}{
		"id":       "cs_6",
		"metadata": map[string]string{"shipping_cost": `799`},
	})
	d, err = services.ParseCheckoutSession(raw)
	require.NoError(t, err)
	assert.Equal(t, "7.99", d.ShippingCost.StringFixed(2))
}

func TestParseCheckoutSession_InvalidCartItemDiscardsList(t *testing.T) {
	cases := map[string]string{
		"non-numeric quantity": `[{"id":7,"printful_variant_id":501,"quantity":2},{"id":8,"printful_variant_id":502,"quantity":"two"}]`,
		"missing variant":      `[{"id":7,"quantity":1}]`,
		"zero quantity":        `[{"id":7,"printful_variant_id":501,"quantity":0}]`,
		"fractional id":        `[{"id":7.5,"printful_variant_id":501,"quantity":1}]`,
		"negative price":       `[{"id":7,"printful_variant_id":501,"quantity":1,"price":-1}]`,
		"null entry":           `[null]`,
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			raw := sessionJSON(t, map[string]interface{}{
				"id":       "cs_7",
				"metadata": map[string]string{"cart_items": items},
			})
			d, err := services.ParseCheckoutSession(raw)
			require.NoError(t, err)
			assert.True(t, d.ItemsPresent)
			assert.Empty(t, d.Items)
			require.Len(t, d.Problems, 1)
			assert.ErrorIs(t, d.Problems[0], services.ErrInvalidCartItem)
		})
	}
}

func TestParseCheckoutSession_NumericStringsAccepted(t *testing.T) {
	raw := sessionJSON(t, map[string]interface{}{
		"id":       "cs_8",
		"metadata": map[string]string{"cart_items": `[{"id":"7","printful_variant_id":"501","quantity":"3","price":"12.5"}]`},
	})
	d, err := services.ParseCheckoutSession(raw)
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	assert.Equal(t, 3, d.Items[0].Quantity)
	assert.Equal(t, "12.50", d.Items[0].Price.StringFixed(2))
}

func TestParseCheckoutSession_Unreadable(t *testing.T) {
	_, err := services.ParseCheckoutSession(nil)
	assert.Error(t, err)

	_, err = services.ParseCheckoutSession([]byte(`{"id":`))
	assert.Error(t, err)
}
