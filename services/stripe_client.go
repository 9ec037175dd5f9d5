package services

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

// MaxWebhookBodyBytes caps the webhook body read from the request.
const MaxWebhookBodyBytes = 65536

var (
	ErrWebhookSecretMissing = errors.New("stripe webhook secret is not configured")
	ErrPayloadTooLarge      = errors.New("webhook payload exceeds size limit")
)

type StripeService struct {
	WebhookKey string
}

func NewStripeService(webhookKey string) *StripeService {
	return &StripeService{WebhookKey: webhookKey}
}

// ParseWebhook reads the raw request body and verifies it against the
// Stripe-Signature header. The verified bytes are returned with the event so
// they can be stored verbatim.
func (s *StripeService) ParseWebhook(r *http.Request) (stripe.Event, []byte, error) {
	if s.WebhookKey == "" {
		return stripe.Event{}, nil, ErrWebhookSecretMissing
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBodyBytes+1))
	if err != nil {
		return stripe.Event{}, nil, fmt.Errorf("read webhook body: %w", err)
	}
	if len(payload) > MaxWebhookBodyBytes {
		return stripe.Event{}, nil, ErrPayloadTooLarge
	}
	event, err := s.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	return event, payload, err
}

// ConstructEvent verifies payload against sigHeader. Events signed for an
// older API version are accepted; only the session object is read from them.
func (s *StripeService) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if s.WebhookKey == "" {
		return stripe.Event{}, ErrWebhookSecretMissing
	}
	return webhook.ConstructEventWithOptions(payload, sigHeader, s.WebhookKey, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
}
