// Package gateway talks to a Razorpay-style payment API: charge intents are
// "orders" created with POST /orders and confirmed later through webhooks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.razorpay.com/v1"

type Client struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	HTTP      *http.Client
}

func New(baseURL, keyID, keySecret string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		KeyID:     keyID,
		KeySecret: keySecret,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type createOrderReq struct {
	Amount   int64             `json:"amount"` // minor units (paise)
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type createOrderResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode  int
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway http %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway http %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// OpenIntent creates a gateway order for amountMinor and returns its id.
func (c *Client) OpenIntent(ctx context.Context, amountMinor int64, currency, reference string, metadata map[string]string) (string, error) {
	body, err := json.Marshal(createOrderReq{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  reference,
		Notes:    metadata,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.KeyID, c.KeySecret)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var wrapped struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error != nil {
			apiErr.Code, apiErr.Description = wrapped.Error.Code, wrapped.Error.Description
		}
		return "", apiErr
	}

	var out createOrderResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode gateway order: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway returned no order id")
	}
	return out.ID, nil
}
