package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-service/models"
)

const printfulBaseURL = "https://api.printful.com"

// ErrUnexpectedResponse is returned when Printful answers 2xx with a body
// that does not describe an order.
var ErrUnexpectedResponse = errors.New("unexpected printful response")

// PrintfulProvider implements FulfillmentProvider using the Printful API.
type PrintfulProvider struct {
	apiKey     string
	storeID    string
	baseURL    string
	httpClient *http.Client
}

// NewPrintfulProvider creates a PrintfulProvider. An empty baseURL selects the
// public API.
func NewPrintfulProvider(apiKey, storeID, baseURL string) *PrintfulProvider {
	if baseURL == "" {
		baseURL = printfulBaseURL
	}
	return &PrintfulProvider{
		apiKey:  apiKey,
		storeID: storeID,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ---- Printful API request/response structs ----

type printfulRecipient struct {
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

type printfulItem struct {
	VariantID   int64  `json:"variant_id"`
	Quantity    int    `json:"quantity"`
	RetailPrice string `json:"retail_price,omitempty"`
	Name        string `json:"name,omitempty"`
}

type printfulOrderRequest struct {
	ExternalID string            `json:"external_id,omitempty"`
	Recipient  printfulRecipient `json:"recipient"`
	Items      []printfulItem    `json:"items"`
}

type printfulOrder struct {
	ID         json.Number `json:"id"`
	ExternalID string      `json:"external_id"`
	Status     string      `json:"status"`
}

type printfulEnvelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ---- FulfillmentProvider implementation ----

// CreateDraftOrder posts the order without confirming it.
func (p *PrintfulProvider) CreateDraftOrder(ctx context.Context, req models.DraftOrderRequest) (*models.FulfillmentOrder, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("printful CreateDraftOrder: no items")
	}

	body := printfulOrderRequest{
		ExternalID: req.ExternalID,
		Recipient:  toPrintfulRecipient(req.Recipient),
		Items:      make([]printfulItem, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		item := printfulItem{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			Name:      it.Name,
		}
		if it.RetailPrice.IsPositive() {
			item.RetailPrice = it.RetailPrice.StringFixed(2)
		}
		body.Items = append(body.Items, item)
	}

	order, err := p.doOrderRequest(ctx, http.MethodPost, "/orders?confirm=false", body)
	if err != nil {
		return nil, fmt.Errorf("printful CreateDraftOrder: %w", err)
	}
	return order, nil
}

// GetOrder fetches a Printful order by its Printful id.
func (p *PrintfulProvider) GetOrder(ctx context.Context, id string) (*models.FulfillmentOrder, error) {
	order, err := p.doOrderRequest(ctx, http.MethodGet, "/orders/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("printful GetOrder: %w", err)
	}
	return order, nil
}

// MapPrintfulStatus translates a Printful order status to the local order
// status. ok is false for statuses that carry no local meaning (draft,
// pending, failed, onhold).
func MapPrintfulStatus(status string) (models.OrderStatus, bool) {
	switch strings.ToLower(status) {
	case "inprocess":
		return models.StatusInProduction, true
	case "fulfilled", "partial":
		return models.StatusShipped, true
	case "canceled", "cancelled":
		return models.StatusCanceled, true
	default:
		return "", false
	}
}

// ---- HTTP helper ----

func (p *PrintfulProvider) doOrderRequest(ctx context.Context, method, path string, body interface{}) (*models.FulfillmentOrder, error) {
	var env printfulEnvelope
	if err := p.doRequest(ctx, method, path, body, &env); err != nil {
		return nil, err
	}

	var order printfulOrder
	if err := json.Unmarshal(env.Result, &order); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if _, err := strconv.ParseInt(order.ID.String(), 10, 64); err != nil {
		return nil, fmt.Errorf("%w: missing order id", ErrUnexpectedResponse)
	}

	return &models.FulfillmentOrder{
		ID:         order.ID.String(),
		ExternalID: order.ExternalID,
		Status:     order.Status,
	}, nil
}

func (p *PrintfulProvider) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if p.storeID != "" {
		req.Header.Set("X-PF-Store-Id", p.storeID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("printful API error (status %d): %s", resp.StatusCode, apiErrorMessage(respBytes))
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnexpectedResponse, err)
		}
	}
	return nil
}

func apiErrorMessage(body []byte) string {
	var env printfulEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return string(body)
}

// ---- Conversion helper ----

func toPrintfulRecipient(a models.ShippingAddress) printfulRecipient {
	return printfulRecipient{
		Name:        a.Name,
		Address1:    a.Address1,
		Address2:    a.Address2,
		City:        a.City,
		StateCode:   a.StateCode,
		CountryCode: a.CountryCode,
		Zip:         a.Zip,
		Phone:       a.Phone,
		Email:       a.Email,
	}
}
