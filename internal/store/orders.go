package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/avelar/go-storefront/internal/database"
	"github.com/avelar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, order_number, status, is_paid,
	sub_total, tax_amount, shipping_amount, total_amount,
	shipping_address, shipping_city, shipping_postal_code, notes,
	created_at, updated_at, version`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.IsPaid,
		&order.SubTotal,
		&order.TaxAmount,
		&order.ShippingAmount,
		&order.TotalAmount,
		&order.ShippingAddress,
		&order.ShippingCity,
		&order.ShippingPostalCode,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// generateOrderNumber builds a customer-facing reference from a nanosecond
// timestamp and a random suffix; order_number carries a UNIQUE constraint, so
// the format only has to make collisions negligible, not impossible.
func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d-%04d", time.Now().UnixNano(), rand.Intn(10000))
}

type CreateOrderRequest struct {
	UserID             int64
	ShippingAddress    string
	ShippingCity       string
	ShippingPostalCode string
	Notes              string
	ShippingAmount     decimal.Decimal
}

// CreateOrderFromCart turns the user's cart into a pending, unpaid order in
// one serializable transaction: re-validate every line against live
// available stock under row locks, snapshot lines at their effective unit
// price, compute totals, raise each product's reservation, and destroy the
// cart. Any failing line aborts the whole thing; no partial order exists.
func CreateOrderFromCart(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var cartID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM carts WHERE user_id = $1`,
			req.UserID).Scan(&cartID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrCartEmpty
			}
			return fmt.Errorf("get cart: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY product_id`,
			cartID)
		if err != nil {
			return fmt.Errorf("get cart items: %w", err)
		}

		var lines []CartLine
		for rows.Next() {
			var line CartLine
			if err := rows.Scan(&line.ProductID, &line.Quantity); err != nil {
				rows.Close()
				return fmt.Errorf("scan cart item: %w", err)
			}
			lines = append(lines, line)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("close cart items: %w", err)
		}
		if len(lines) == 0 {
			return database.ErrCartEmpty
		}

		// Lock every product first, then snapshot. The cart's own check is
		// advisory; this is the authoritative one.
		now := time.Now()
		subTotal := decimal.Zero
		items := make([]models.OrderItem, 0, len(lines))
		products := make([]*models.Product, 0, len(lines))

		for _, line := range lines {
			product, err := lockProduct(ctx, tx, line.ProductID)
			if err != nil {
				return err
			}
			if product.AvailableStock() < line.Quantity {
				return &database.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   line.Quantity,
					Available:   product.AvailableStock(),
				}
			}

			unitPrice := product.EffectiveUnitPrice(line.Quantity, now)
			items = append(items, models.OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				UnitPrice:   unitPrice,
				Quantity:    line.Quantity,
				Subtotal:    unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
			})
			products = append(products, product)
			subTotal = subTotal.Add(items[len(items)-1].Subtotal)
		}

		taxAmount, totalAmount := models.OrderTotals(subTotal, req.ShippingAmount)

		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, is_paid,
				sub_total, tax_amount, shipping_amount, total_amount,
				shipping_address, shipping_city, shipping_postal_code, notes,
				created_at, updated_at, version)
			 VALUES ($1, $2, $3, false, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW(), 1)
			 RETURNING id`,
			req.UserID, generateOrderNumber(), models.OrderStatusPending,
			subTotal, taxAmount, req.ShippingAmount, totalAmount,
			req.ShippingAddress, req.ShippingCity, req.ShippingPostalCode, req.Notes).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range items {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
				orderID, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity, item.Subtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		for i, line := range lines {
			if err := reserveStock(ctx, tx, products[i], line.Quantity); err != nil {
				return err
			}
		}

		if err := clearCart(ctx, tx, cartID); err != nil {
			return err
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Items, err = loadOrderItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}

	return order, nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order %d: %w", id, err)
	}
	return order, nil
}

func orderLineQuantities(ctx context.Context, tx *sql.Tx, orderID int64) (map[int64]int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, quantity FROM order_items WHERE order_id = $1 ORDER BY product_id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	quantities := make(map[int64]int)
	for rows.Next() {
		var productID int64
		var quantity int
		if err := rows.Scan(&productID, &quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		quantities[productID] += quantity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return quantities, nil
}

// MarkOrderPaid is the one transition that turns a reservation into a
// permanent deduction: every line's quantity comes off stock and
// reserved_stock together. Re-marking a paid order is rejected outright, not
// silently repeated, so a replayed confirmation can never deduct twice.
func MarkOrderPaid(ctx context.Context, db *sql.DB, orderID int64) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if current.IsPaid {
			return database.ErrOrderAlreadyPaid
		}

		quantities, err := orderLineQuantities(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for productID, quantity := range quantities {
			if err := confirmReservation(ctx, tx, productID, quantity); err != nil {
				return err
			}
		}

		// Fulfillment status is deliberately untouched: payment and status
		// move on independent axes, and an operator advances status later.
		order, err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET is_paid = true, updated_at = NOW(), version = version + 1
			 WHERE id = $1
			 RETURNING `+orderColumns,
			orderID))
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// CancelOrder releases the order's reservation and sets the terminal
// cancelled status. Only unpaid orders qualify; a paid order has already
// deducted stock and must go through a refund path instead.
func CancelOrder(ctx context.Context, db *sql.DB, orderID int64) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if current.Status == models.OrderStatusCancelled {
			return database.ErrOrderAlreadyCancelled
		}
		if current.IsPaid {
			return database.ErrOrderPaid
		}
		if !models.CanTransition(current.Status, models.OrderStatusCancelled) {
			return database.ErrInvalidTransition
		}

		quantities, err := orderLineQuantities(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for productID, quantity := range quantities {
			if err := releaseReservation(ctx, tx, productID, quantity); err != nil {
				return err
			}
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1, updated_at = NOW(), version = version + 1
			 WHERE id = $2
			 RETURNING `+orderColumns,
			models.OrderStatusCancelled, orderID))
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateOrderStatus advances fulfillment along the explicit transition table.
// Moving to cancelled goes through CancelOrder so the reservation release can
// never be skipped. No other transition touches stock.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, next models.OrderStatus) (*models.Order, error) {
	if !models.ValidStatus(next) {
		return nil, database.ErrInvalidTransition
	}

	if next == models.OrderStatusCancelled {
		return CancelOrder(ctx, db, orderID)
	}

	var order *models.Order
	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !models.CanTransition(current.Status, next) {
			return database.ErrInvalidTransition
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1, updated_at = NOW(), version = version + 1
			 WHERE id = $2
			 RETURNING `+orderColumns,
			next, orderID))
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func loadOrderItems(ctx context.Context, db *sql.DB, orderID int64) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, product_name, unit_price, quantity, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.UnitPrice,
			&item.Quantity,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order.Items, err = loadOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// GetUserOrder is GetOrder scoped to the owning user.
func GetUserOrder(ctx context.Context, db *sql.DB, userID, id int64) (*models.Order, error) {
	order, err := GetOrder(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, database.ErrOrderNotFound
	}
	return order, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListOrders is the admin view: all orders, optionally filtered by status,
// newest first.
func ListOrders(ctx context.Context, db *sql.DB, status *models.OrderStatus, page, pageSize int) (*OffsetPage, error) {
	countQuery := `SELECT COUNT(*) FROM orders`
	listQuery := `SELECT ` + orderColumns + ` FROM orders`
	args := []any{}
	if status != nil {
		countQuery += ` WHERE status = $1`
		listQuery += ` WHERE status = $1`
		args = append(args, *status)
	}

	var total int64
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	listQuery += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, pageSize, offset)

	rows, err := db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      orders,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// GetOrderCustomer resolves the user an order belongs to, for notifications.
func GetOrderCustomer(ctx context.Context, db *sql.DB, orderID int64) (*models.User, error) {
	user := &models.User{}
	err := db.QueryRowContext(ctx,
		`SELECT u.id, u.email, u.first_name, u.last_name, u.created_at, u.updated_at, u.version
		 FROM users u
		 JOIN orders o ON o.user_id = u.id
		 WHERE o.id = $1`,
		orderID).Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order customer: %w", err)
	}
	return user, nil
}
