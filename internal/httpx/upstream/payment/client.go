// Package payment is a client for the payment gateway that issues pix and card charges.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
	"github.com/vadim/neo-publisher/internal/domain/credit/service"
)

const (
	defaultBaseURL = "http://localhost:8092"
	defaultTimeout = 15 * time.Second
)

// Client is a payment gateway API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAPIKey sets the gateway API key
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a new payment gateway client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an error from the gateway
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment gateway error: %s (status: %d, code: %s)", e.Message, e.StatusCode, e.Code)
}

type chargeRequest struct {
	Reference   string   `json:"reference"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency"`
	Method      string   `json:"payment_method"`
	Description string   `json:"description,omitempty"`
	Customer    customer `json:"customer"`
}

type customer struct {
	Document string `json:"document,omitempty"`
}

type chargeResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	CheckoutURL string     `json:"checkout_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Pix         *struct {
		QRCode    string `json:"qr_code"`
		CopyPaste string `json:"copy_paste"`
	} `json:"pix,omitempty"`
}

// CreateCharge opens a charge for a purchase
func (c *Client) CreateCharge(ctx context.Context, req service.ChargeRequest) (*service.Charge, error) {
	body, err := json.Marshal(chargeRequest{
		Reference:   req.Reference,
		Amount:      req.AmountCents,
		Currency:    req.Currency,
		Method:      string(req.Method),
		Description: req.Description,
		Customer:    customer{Document: req.CPF},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	var out chargeResponse
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return out.toCharge(), nil
}

// GetCharge retrieves the current state of a charge
func (c *Client) GetCharge(ctx context.Context, id string) (*service.Charge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/charges/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out chargeResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.toCharge(), nil
}

// CancelCharge voids a charge that was not paid yet
func (c *Client) CancelCharge(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges/"+url.PathEscape(id)+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, nil)
}

func (r chargeResponse) toCharge() *service.Charge {
	ch := &service.Charge{
		ID:        r.ID,
		Status:    ParseStatus(r.Status),
		ExpiresAt: r.ExpiresAt,
		Instructions: entity.Instructions{
			CheckoutURL: r.CheckoutURL,
		},
	}
	if r.Pix != nil {
		ch.Instructions.QRCode = r.Pix.QRCode
		ch.Instructions.CopyPaste = r.Pix.CopyPaste
	}
	return ch
}

// ParseStatus maps gateway charge statuses onto purchase statuses. Unknown values stay pending.
func ParseStatus(s string) entity.PurchaseStatus {
	switch strings.ToLower(s) {
	case "paid", "approved", "succeeded", "captured":
		return entity.PurchaseApproved
	case "refused", "rejected", "failed", "declined":
		return entity.PurchaseRejected
	case "canceled", "cancelled", "expired", "voided":
		return entity.PurchaseCancelled
	default:
		return entity.PurchasePending
	}
}

// do executes an HTTP request and decodes the response
func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		errResp.Error.StatusCode = resp.StatusCode
		return &errResp.Error
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
