// Package payment holds the boundary to the external payment gateway: a
// client for creating a payable "preference" for an order, and the bridge
// that maps gateway notifications onto the order lifecycle.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type PreferenceItem struct {
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	PayerName         string           `json:"payer_name"`
	PayerEmail        string           `json:"payer_email"`
	ExternalReference string           `json:"external_reference"`
	SuccessURL        string           `json:"success_url"`
	FailureURL        string           `json:"failure_url"`
	PendingURL        string           `json:"pending_url"`
	NotificationURL   string           `json:"notification_url"`
}

type Preference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type Gateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
}

// HTTPGateway talks to the real gateway over HTTPS. The wire protocol beyond
// this request/response pair is the gateway's business, not ours.
type HTTPGateway struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

func NewHTTPGateway(baseURL, accessToken string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL:     baseURL,
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal preference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build preference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.accessToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}

	preference := &Preference{}
	if err := json.NewDecoder(resp.Body).Decode(preference); err != nil {
		return nil, fmt.Errorf("decode preference response: %w", err)
	}

	return preference, nil
}
