/**
 * @description
 * This package provides a client for the hosted payments API (checkout
 * sessions and the customer billing portal). It encapsulates the logic for
 * making authenticated HTTP requests, handling request body construction,
 * and parsing responses. Webhook delivery and signature verification live on
 * the receiving side; this client only creates provider resources.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package paymentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the payments API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payments API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// LineItem is a single purchasable line on a checkout session. Either
// PriceID references a pre-configured provider price, or Name/UnitAmount
// describe an ad-hoc one.
type LineItem struct {
	PriceID    string `json:"price,omitempty"`
	Name       string `json:"name,omitempty"`
	Currency   string `json:"currency,omitempty"`
	UnitAmount int64  `json:"unit_amount,omitempty"`
	Quantity   int64  `json:"quantity"`
}

// CheckoutSessionParams is the payload for creating a checkout session.
// Metadata and ClientReferenceID are echoed back on the completion webhook,
// which is how the webhook knows which account to credit.
type CheckoutSessionParams struct {
	Mode              string            `json:"mode"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
	LineItems         []LineItem        `json:"line_items"`
	ClientReferenceID string            `json:"client_reference_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ShippingRateID    string            `json:"shipping_rate,omitempty"`
	ShippingCountries []string          `json:"shipping_countries,omitempty"`
}

// CheckoutSession is the provider's representation of a created session.
type CheckoutSession struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Customer string `json:"customer,omitempty"`
	Status   string `json:"status,omitempty"`
}

// PortalSession is a billing portal session for an existing customer.
type PortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ErrorResponse represents an error from the payments API.
type ErrorResponse struct {
	ErrorBody struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorBody.Message != "" {
		return fmt.Sprintf("payments api error: %s - %s", e.ErrorBody.Code, e.ErrorBody.Message)
	}
	return "unknown payments api error"
}

// CreateCheckoutSession creates a hosted checkout session.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.post(ctx, "/v1/checkout/sessions", params, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateBillingPortalSession creates a billing portal session for a customer.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	payload := map[string]string{
		"customer":   customerID,
		"return_url": returnURL,
	}
	var session PortalSession
	if err := c.post(ctx, "/v1/billing_portal/sessions", payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.ErrorBody.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("payments api error with status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
