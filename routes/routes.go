package routes

import (
	"storefront-service/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the public endpoints. The webhook is unauthenticated;
// the Stripe signature is its authentication.
func RegisterRoutes(r *gin.Engine, wc *controllers.WebhookController, hc *controllers.HealthController) {
	r.GET("/health", hc.Health)
	r.POST("/stripe/webhook", wc.StripeWebhook)
}
