package payment

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/avelar/go-storefront/internal/models"
	"github.com/avelar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

// Checkout creates an order from the user's cart and asks the gateway for a
// payable preference the client can be redirected to.
type Checkout struct {
	DB          *sql.DB
	Gateway     Gateway
	Shipping    decimal.Decimal
	FrontendURL string
	BackendURL  string
}

type CheckoutRequest struct {
	UserID             int64
	PayerName          string
	PayerEmail         string
	ShippingAddress    string
	ShippingCity       string
	ShippingPostalCode string
	Notes              string
}

type CheckoutResult struct {
	Order        *models.Order `json:"order"`
	PreferenceID string        `json:"preference_id"`
	InitPoint    string        `json:"init_point"`
}

// Create reserves stock by creating the order first, then asks the gateway
// for a preference. If the gateway call fails the fresh order is cancelled
// again so its reservation is released, and the caller sees a retryable
// error; the cart is gone either way, matching order creation semantics.
func (c *Checkout) Create(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	order, err := store.CreateOrderFromCart(ctx, c.DB, store.CreateOrderRequest{
		UserID:             req.UserID,
		ShippingAddress:    req.ShippingAddress,
		ShippingCity:       req.ShippingCity,
		ShippingPostalCode: req.ShippingPostalCode,
		Notes:              req.Notes,
		ShippingAmount:     c.Shipping,
	})
	if err != nil {
		return nil, err
	}

	items := make([]PreferenceItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, PreferenceItem{
			Title:     item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	preference, err := c.Gateway.CreatePreference(ctx, PreferenceRequest{
		Items:             items,
		PayerName:         req.PayerName,
		PayerEmail:        req.PayerEmail,
		ExternalReference: fmt.Sprintf("%d", order.ID),
		SuccessURL:        fmt.Sprintf("%s/payment/success?orderId=%d", c.FrontendURL, order.ID),
		FailureURL:        fmt.Sprintf("%s/payment/failure?orderId=%d", c.FrontendURL, order.ID),
		PendingURL:        fmt.Sprintf("%s/payment/pending?orderId=%d", c.FrontendURL, order.ID),
		NotificationURL:   c.BackendURL + "/api/payment/webhook",
	})
	if err != nil {
		if _, cancelErr := store.CancelOrder(ctx, c.DB, order.ID); cancelErr != nil {
			log.Printf("failed to cancel order %d after gateway error: %v", order.ID, cancelErr)
		}
		return nil, fmt.Errorf("create payment preference: %w", err)
	}

	return &CheckoutResult{
		Order:        order,
		PreferenceID: preference.ID,
		InitPoint:    preference.InitPoint,
	}, nil
}
