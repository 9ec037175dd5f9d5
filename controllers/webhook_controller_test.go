package controllers_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-service/controllers"
	"storefront-service/models"
	"storefront-service/repository/memory"
	"storefront-service/routes"
	"storefront-service/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

// ---- mocks ----

type mockVerifier struct {
	event   stripe.Event
	payload []byte
	err     error
}

func (m *mockVerifier) ParseWebhook(_ *http.Request) (stripe.Event, []byte, error) {
	return m.event, m.payload, m.err
}

type mockReconciler struct {
	result *services.Result
	err    error
	calls  int
}

func (m *mockReconciler) Reconcile(_ context.Context, _ stripe.Event, _ []byte) (*services.Result, error) {
	m.calls++
	return m.result, m.err
}

type mockPinger struct{ err error }

func (m mockPinger) PingContext(_ context.Context) error { return m.err }

// ---- helpers ----

func setupRouter(verifier controllers.WebhookVerifier, reconciler controllers.EventReconciler, pinger controllers.Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	wc := controllers.NewWebhookController(verifier, reconciler, zap.NewNop())
	hc := controllers.NewHealthController(pinger, "storefront-service")
	routes.RegisterRoutes(r, wc, hc)
	return r
}

func postWebhook(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// ---- StripeWebhook ----

func TestStripeWebhook_Acknowledged(t *testing.T) {
	rec := &mockReconciler{result: &services.Result{Outcome: services.OutcomeProcessed}}
	r := setupRouter(&mockVerifier{event: stripe.Event{ID: "evt_1"}}, rec, nil)

	w := postWebhook(r, httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", decode(t, w)["outcome"])
	assert.Equal(t, 1, rec.calls)
}

func TestStripeWebhook_DuplicateIsAcknowledged(t *testing.T) {
	rec := &mockReconciler{result: &services.Result{Outcome: services.OutcomeDuplicate}}
	r := setupRouter(&mockVerifier{event: stripe.Event{ID: "evt_1"}}, rec, nil)

	w := postWebhook(r, httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decode(t, w)["outcome"])
}

func TestStripeWebhook_MissingSecret(t *testing.T) {
	rec := &mockReconciler{}
	r := setupRouter(&mockVerifier{err: services.ErrWebhookSecretMissing}, rec, nil)

	w := postWebhook(r, httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "webhook not configured", decode(t, w)["error"])
	assert.Zero(t, rec.calls)
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	rec := &mockReconciler{}
	r := setupRouter(&mockVerifier{err: errors.New("signature mismatch")}, rec, nil)

	w := postWebhook(r, httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, rec.calls)
}

func TestStripeWebhook_PayloadTooLarge(t *testing.T) {
	r := setupRouter(&mockVerifier{err: services.ErrPayloadTooLarge}, &mockReconciler{}, nil)

	w := postWebhook(r, httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestStripeWebhook_ReconcileFailureAsksForRetry(t *testing.T) {
	rec := &mockReconciler{err: errors.New("db down")}
	r := setupRouter(&mockVerifier{event: stripe.Event{ID: "evt_1"}}, rec, nil)

	w := postWebhook(r, httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to process event", decode(t, w)["error"])
}

func TestStripeWebhook_SignedEventEndToEnd(t *testing.T) {
	const secret = "whsec_e2e"
	store := memory.NewStore()
	store.SeedOrder(models.Order{ID: 42})
	reconciler := services.NewReconciler(store, nil, nil, nil, services.ReconcilerConfig{}, zap.NewNop())
	r := setupRouter(services.NewStripeService(secret), reconciler, nil)

	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"42","amount_total":2599,"metadata":{"cart_items":"[{\"id\":7,\"printful_variant_id\":501,\"quantity\":2,\"price\":10}]"}}}}`)
	sign := func() *http.Request {
		now := time.Now()
		req := httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(webhook.ComputeSignature(now, payload, secret))))
		return req
	}

	w := postWebhook(r, sign())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", decode(t, w)["outcome"])

	order, _ := store.Order(42)
	assert.Equal(t, models.StatusPaid, order.Status)
	assert.Equal(t, "25.99", order.Total.StringFixed(2))
	assert.Len(t, order.Items, 1)

	w = postWebhook(r, sign())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decode(t, w)["outcome"])
	assert.Len(t, store.History(42), 1)

	tampered := httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewReader(payload))
	tampered.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w = postWebhook(r, tampered)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---- Health ----

func TestHealth(t *testing.T) {
	r := setupRouter(&mockVerifier{}, &mockReconciler{}, mockPinger{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	r = setupRouter(&mockVerifier{}, &mockReconciler{}, mockPinger{err: errors.New("refused")})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
