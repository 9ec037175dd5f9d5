package providers

import (
	"context"

	"storefront-service/models"
)

// FulfillmentProvider is the print-on-demand backend orders are sent to.
type FulfillmentProvider interface {
	// CreateDraftOrder places an unconfirmed order. The provider holds it
	// until it is confirmed from their dashboard.
	CreateDraftOrder(ctx context.Context, req models.DraftOrderRequest) (*models.FulfillmentOrder, error)

	// GetOrder returns the provider's current view of a placed order.
	GetOrder(ctx context.Context, id string) (*models.FulfillmentOrder, error)
}
