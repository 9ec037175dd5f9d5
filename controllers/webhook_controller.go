package controllers

import (
	"context"
	"errors"
	"net/http"

	"storefront-service/services"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// EventReconciler is satisfied by *services.Reconciler.
type EventReconciler interface {
	Reconcile(ctx context.Context, event stripe.Event, payload []byte) (*services.Result, error)
}

// WebhookVerifier is satisfied by *services.StripeService.
type WebhookVerifier interface {
	ParseWebhook(r *http.Request) (stripe.Event, []byte, error)
}

type WebhookController struct {
	Stripe     WebhookVerifier
	Reconciler EventReconciler
	Logger     *zap.Logger
}

func NewWebhookController(verifier WebhookVerifier, reconciler EventReconciler, logger *zap.Logger) *WebhookController {
	return &WebhookController{Stripe: verifier, Reconciler: reconciler, Logger: logger}
}

// StripeWebhook verifies the raw body and hands the event to the reconciler.
// Anything but a configuration problem, a bad signature or a failed order
// mutation is acknowledged with 200.
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	event, payload, err := wc.Stripe.ParseWebhook(c.Request)
	switch {
	case errors.Is(err, services.ErrWebhookSecretMissing):
		wc.Logger.Error("Stripe webhook secret missing, rejecting event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	case errors.Is(err, services.ErrPayloadTooLarge):
		wc.Logger.Warn("Stripe webhook body too large")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	case err != nil:
		wc.Logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	wc.Logger.Info("Processing Stripe webhook",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
	)

	result, err := wc.Reconciler.Reconcile(c.Request.Context(), event, payload)
	if err != nil {
		wc.Logger.Error("Stripe webhook processing failed",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "received", "outcome": result.Outcome})
}
