package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	CategoryID    int64           `json:"category_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Stock         int             `json:"stock"`
	ReservedStock int             `json:"reserved_stock"`

	HasQuantityDiscount    bool             `json:"has_quantity_discount"`
	MinQuantityForDiscount *int             `json:"min_quantity_for_discount,omitempty"`
	DiscountedPrice        *decimal.Decimal `json:"discounted_price,omitempty"`
	DiscountStartDate      *time.Time       `json:"discount_start_date,omitempty"`
	DiscountEndDate        *time.Time       `json:"discount_end_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// AvailableStock is derived from stock and reserved stock and is never
// persisted on its own, so the two source columns cannot drift from it.
func (p *Product) AvailableStock() int {
	return p.Stock - p.ReservedStock
}

// DiscountActive reports whether the quantity discount applies at the given
// instant. Unset window bounds are treated as unbounded on that side.
func (p *Product) DiscountActive(now time.Time) bool {
	if !p.HasQuantityDiscount || p.MinQuantityForDiscount == nil || p.DiscountedPrice == nil {
		return false
	}
	if p.DiscountStartDate != nil && now.Before(*p.DiscountStartDate) {
		return false
	}
	if p.DiscountEndDate != nil && now.After(*p.DiscountEndDate) {
		return false
	}
	return true
}

// MarshalJSON attaches the derived fields to every serialized product, so
// list and single-product responses share one shape and clients never
// compute availability themselves.
func (p Product) MarshalJSON() ([]byte, error) {
	type product Product
	return json.Marshal(struct {
		product
		AvailableStock   int  `json:"available_stock"`
		IsDiscountActive bool `json:"is_discount_active"`
	}{
		product:          product(p),
		AvailableStock:   p.AvailableStock(),
		IsDiscountActive: p.DiscountActive(time.Now()),
	})
}

// EffectiveUnitPrice returns the unit price an order line of the given
// quantity pays at the given instant. The result is evaluated once at order
// creation and frozen into the order item snapshot.
func (p *Product) EffectiveUnitPrice(quantity int, now time.Time) decimal.Decimal {
	if p.DiscountActive(now) && quantity >= *p.MinQuantityForDiscount {
		return *p.DiscountedPrice
	}
	return p.Price
}

type Cart struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ID        int64     `json:"id"`
	CartID    int64     `json:"cart_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

type Order struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	OrderNumber    string          `json:"order_number"`
	Status         OrderStatus     `json:"status"`
	IsPaid         bool            `json:"is_paid"`
	SubTotal       decimal.Decimal `json:"sub_total"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	ShippingAmount decimal.Decimal `json:"shipping_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`

	ShippingAddress    string `json:"shipping_address"`
	ShippingCity       string `json:"shipping_city"`
	ShippingPostalCode string `json:"shipping_postal_code"`
	Notes              string `json:"notes,omitempty"`

	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Version   int         `json:"version"`
	Items     []OrderItem `json:"items,omitempty"`
}

// OrderItem is an immutable snapshot of a product line taken at order
// creation. Later catalog or price changes never touch placed orders.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TaxRate is the VAT applied to the order subtotal.
var TaxRate = decimal.NewFromFloat(0.22)

// OrderTotals computes tax and grand total from a subtotal and the flat
// shipping fee. Computed once at creation and never recomputed.
func OrderTotals(subTotal, shipping decimal.Decimal) (tax, total decimal.Decimal) {
	tax = subTotal.Mul(TaxRate)
	total = subTotal.Add(tax).Add(shipping)
	return tax, total
}
