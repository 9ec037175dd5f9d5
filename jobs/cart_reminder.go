package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"storefront-service/models"
	"storefront-service/repository"
	"storefront-service/sender"

	"go.uber.org/zap"
)

const reminderSubject = "You left something in your cart"

var reminderTemplate = template.Must(template.New("reminder").Parse(
	`<p>Hi,</p>
<p>Your cart is still waiting for you:</p>
<ul>{{range .Items}}<li>{{.Quantity}} &times; {{.Name}}</li>{{end}}</ul>
<p><a href="{{.CartURL}}">Complete your order</a></p>`))

type reminderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// CartReminderJob mails one reminder per abandoned cart that has been idle
// long enough and is still inside the recovery window.
type CartReminderJob struct {
	store         repository.Store
	sender        sender.EmailSender
	idleAfter     time.Duration
	window        time.Duration
	batchSize     int
	storefrontURL string
	logger        *zap.Logger
	now           func() time.Time
}

func NewCartReminderJob(
	store repository.Store,
	emailSender sender.EmailSender,
	idleAfter, window time.Duration,
	storefrontURL string,
	logger *zap.Logger,
) *CartReminderJob {
	return &CartReminderJob{
		store:         store,
		sender:        emailSender,
		idleAfter:     idleAfter,
		window:        window,
		batchSize:     200,
		storefrontURL: strings.TrimRight(storefrontURL, "/"),
		logger:        logger,
		now:           time.Now,
	}
}

func (j *CartReminderJob) Name() string { return "abandoned_cart_reminder" }

func (j *CartReminderJob) Run(ctx context.Context) (int, error) {
	now := j.now().UTC()
	carts, err := j.store.Carts().FindReminderCandidates(ctx, now.Add(-j.idleAfter), now.Add(-j.window), j.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list reminder candidates: %w", err)
	}

	sent := 0
	for _, cart := range carts {
		if cart.CustomerEmail == "" {
			continue
		}
		body, err := j.renderReminder(cart)
		if err != nil {
			j.logger.Warn("Failed to render cart reminder", zap.Uint("cart_id", cart.ID), zap.Error(err))
			continue
		}
		if _, err := j.sender.SendEmail(ctx, cart.CustomerEmail, reminderSubject, body); err != nil {
			j.logger.Warn("Failed to send cart reminder", zap.Uint("cart_id", cart.ID), zap.Error(err))
			continue
		}
		if err := j.store.Carts().MarkReminded(ctx, cart.ID, now); err != nil {
			j.logger.Error("Cart reminder sent but not recorded", zap.Uint("cart_id", cart.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

// renderReminder lists the snapshot items that decode; an unreadable
// snapshot still yields a reminder without the list.
func (j *CartReminderJob) renderReminder(cart models.AbandonedCart) (string, error) {
	var items []reminderItem
	if len(cart.CartSnapshot) > 0 {
		_ = json.Unmarshal(cart.CartSnapshot, &items)
	}
	var buf bytes.Buffer
	err := reminderTemplate.Execute(&buf, struct {
		Items   []reminderItem
		CartURL string
	}{Items: items, CartURL: j.storefrontURL + "/cart"})
	return buf.String(), err
}
