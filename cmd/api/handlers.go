package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/avelar/go-storefront/internal/auth"
	"github.com/avelar/go-storefront/internal/cache"
	"github.com/avelar/go-storefront/internal/database"
	"github.com/avelar/go-storefront/internal/metrics"
	"github.com/avelar/go-storefront/internal/models"
	"github.com/avelar/go-storefront/internal/notify"
	"github.com/avelar/go-storefront/internal/payment"
	"github.com/avelar/go-storefront/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type application struct {
	db       *sql.DB
	cache    *cache.Cache
	notifier notify.Notifier
	checkout *payment.Checkout
	bridge   *payment.Bridge
	shipping decimal.Decimal
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps the store's error taxonomy onto HTTP statuses:
// validation problems are 400, missing rows 404, state conflicts 409,
// anything else an opaque 500.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case database.IsInsufficientStock(err),
		errors.Is(err, database.ErrCartEmpty),
		errors.Is(err, database.ErrInvalidQuantity),
		errors.Is(err, database.ErrDuplicateCartItem):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrCategoryNotFound),
		errors.Is(err, database.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrOrderAlreadyPaid),
		errors.Is(err, database.ErrOrderAlreadyCancelled),
		errors.Is(err, database.ErrOrderPaid),
		errors.Is(err, database.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func (app *application) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := store.CreateUser(r.Context(), app.db, req.Email, req.FirstName, req.LastName)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (app *application) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := store.GetUser(r.Context(), app.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (app *application) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := store.ListUsers(r.Context(), app.db, page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (app *application) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := store.ListProducts(r.Context(), app.db, page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (app *application) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	product, err := store.GetProduct(r.Context(), app.db, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (app *application) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SKU                    string           `json:"sku"`
		CategoryID             int64            `json:"category_id"`
		Name                   string           `json:"name"`
		Description            string           `json:"description"`
		Price                  decimal.Decimal  `json:"price"`
		Stock                  int              `json:"stock"`
		HasQuantityDiscount    bool             `json:"has_quantity_discount"`
		MinQuantityForDiscount *int             `json:"min_quantity_for_discount"`
		DiscountedPrice        *decimal.Decimal `json:"discounted_price"`
		DiscountStartDate      *time.Time       `json:"discount_start_date"`
		DiscountEndDate        *time.Time       `json:"discount_end_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Price.IsPositive() {
		respondError(w, http.StatusBadRequest, "Price must be greater than zero")
		return
	}
	if req.Stock < 0 {
		respondError(w, http.StatusBadRequest, "Stock must not be negative")
		return
	}

	product, err := store.CreateProduct(r.Context(), app.db, store.CreateProductRequest{
		SKU:                    req.SKU,
		CategoryID:             req.CategoryID,
		Name:                   req.Name,
		Description:            req.Description,
		Price:                  req.Price,
		Stock:                  req.Stock,
		HasQuantityDiscount:    req.HasQuantityDiscount,
		MinQuantityForDiscount: req.MinQuantityForDiscount,
		DiscountedPrice:        req.DiscountedPrice,
		DiscountStartDate:      req.DiscountStartDate,
		DiscountEndDate:        req.DiscountEndDate,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (app *application) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	var req store.UpdateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	product, err := store.UpdateProduct(r.Context(), app.db, id, req)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (app *application) handleCorrectStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	var req struct {
		Stock int `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	product, err := store.CorrectStock(r.Context(), app.db, id, req.Stock)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (app *application) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := store.ListCategories(r.Context(), app.db, app.cache)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (app *application) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	category, err := store.CreateCategory(r.Context(), app.db, app.cache, req.Name)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, category)
}

func (app *application) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	category, err := store.UpdateCategory(r.Context(), app.db, app.cache, id, req.Name)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, category)
}

func (app *application) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	if err := store.DeleteCategory(r.Context(), app.db, app.cache, id); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) handleGetCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	cart, err := store.GetCart(r.Context(), app.db, userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (app *application) handleSyncCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req struct {
		Items []store.CartLine `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := store.SyncCart(r.Context(), app.db, userID, req.Items); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "cart synchronized"})
}

func (app *application) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req struct {
		ShippingAddress    string `json:"shipping_address"`
		ShippingCity       string `json:"shipping_city"`
		ShippingPostalCode string `json:"shipping_postal_code"`
		Notes              string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := store.CreateOrderFromCart(r.Context(), app.db, store.CreateOrderRequest{
		UserID:             userID,
		ShippingAddress:    req.ShippingAddress,
		ShippingCity:       req.ShippingCity,
		ShippingPostalCode: req.ShippingPostalCode,
		Notes:              req.Notes,
		ShippingAmount:     app.shipping,
	})
	metrics.RecordOrderOperation("create", err == nil)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (app *application) handleListMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := store.ListOrdersCursor(r.Context(), app.db, userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (app *application) handleGetMyOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := store.GetUserOrder(r.Context(), app.db, userID, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (app *application) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	var status *models.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := models.OrderStatus(s)
		if !models.ValidStatus(st) {
			respondError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		status = &st
	}

	result, err := store.ListOrders(r.Context(), app.db, status, page, pageSize)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (app *application) handleMarkOrderPaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := store.MarkOrderPaid(r.Context(), app.db, id)
	metrics.RecordOrderOperation("mark_paid", err == nil)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (app *application) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := store.UpdateOrderStatus(r.Context(), app.db, id, req.Status)
	metrics.RecordOrderOperation("update_status", err == nil)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if order.Status == models.OrderStatusShipped {
		app.notifyShipped(order)
	}

	respondJSON(w, http.StatusOK, order)
}

// notifyShipped tells the customer their order is on the way. Fire and
// forget: a delivery failure is logged and never affects the transition that
// already committed.
func (app *application) notifyShipped(order *models.Order) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		customer, err := store.GetOrderCustomer(ctx, app.db, order.ID)
		if err != nil {
			log.Printf("shipped notification for order %s: lookup customer: %v", order.OrderNumber, err)
			return
		}

		err = app.notifier.OrderShipped(ctx, notify.ShippedNotice{
			OrderNumber:        order.OrderNumber,
			CustomerName:       customer.FullName(),
			CustomerEmail:      customer.Email,
			ShippingAddress:    order.ShippingAddress,
			ShippingCity:       order.ShippingCity,
			ShippingPostalCode: order.ShippingPostalCode,
			ShippedAt:          time.Now().UTC(),
		})
		if err != nil {
			log.Printf("shipped notification for order %s failed: %v", order.OrderNumber, err)
		}
	}()
}

func (app *application) handleCreatePreference(w http.ResponseWriter, r *http.Request) {
	if app.checkout == nil {
		respondError(w, http.StatusServiceUnavailable, "Payment gateway not configured")
		return
	}

	userID, _ := auth.UserID(r.Context())

	var req struct {
		PayerName          string `json:"payer_name"`
		PayerEmail         string `json:"payer_email"`
		ShippingAddress    string `json:"shipping_address"`
		ShippingCity       string `json:"shipping_city"`
		ShippingPostalCode string `json:"shipping_postal_code"`
		Notes              string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := app.checkout.Create(r.Context(), payment.CheckoutRequest{
		UserID:             userID,
		PayerName:          req.PayerName,
		PayerEmail:         req.PayerEmail,
		ShippingAddress:    req.ShippingAddress,
		ShippingCity:       req.ShippingCity,
		ShippingPostalCode: req.ShippingPostalCode,
		Notes:              req.Notes,
	})
	metrics.RecordOrderOperation("checkout", err == nil)
	if err != nil {
		var insufficient *database.InsufficientStockError
		if errors.Is(err, database.ErrCartEmpty) || errors.As(err, &insufficient) {
			respondStoreError(w, err)
			return
		}
		// The user can retry; the reservation was rolled back.
		log.Printf("checkout for user %d failed: %v", userID, err)
		respondError(w, http.StatusBadGateway, "Payment gateway unavailable, please retry")
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (app *application) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := store.GetUserOrder(r.Context(), app.db, userID, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": order.ID,
		"is_paid":  order.IsPaid,
		"status":   order.Status,
	})
}

// handlePaymentWebhook acknowledges everything it can. Malformed payloads
// are logged and answered 200 so the gateway does not retry forever against
// a permanently failing handler; only infrastructure errors return 500.
func (app *application) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var n payment.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		log.Printf("payment webhook: malformed payload: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := app.bridge.HandleNotification(r.Context(), n); err != nil {
		log.Printf("payment webhook: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
