package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avelar/go-storefront/internal/database"
	"github.com/avelar/go-storefront/internal/models"
)

type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// GetCart returns the user's cart, or an empty cart if none is stored. A cart
// only exists between checkout sessions; order creation destroys it.
func GetCart(ctx context.Context, db *sql.DB, userID int64) (*models.Cart, error) {
	cart := &models.Cart{UserID: userID}

	err := db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`,
		userID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return cart, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, cart_id, product_id, quantity, added_at
		 FROM cart_items
		 WHERE cart_id = $1
		 ORDER BY added_at`,
		cart.ID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cart, nil
}

// SyncCart replaces the user's stored cart with the given lines. Every line
// must name a distinct existing product, carry a positive quantity, and fit within
// the product's current available stock; any failing line aborts the whole
// sync and the previously stored cart is left untouched.
//
// This is the last checkpoint before reservation, and it is advisory only:
// order creation re-validates against live stock inside its own transaction.
func SyncCart(ctx context.Context, db *sql.DB, userID int64, lines []CartLine) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			userID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		// Validate every line before touching stored items so a rejection
		// cannot leave a partially replaced cart behind.
		seen := make(map[int64]bool, len(lines))
		for _, line := range lines {
			if line.Quantity <= 0 {
				return database.ErrInvalidQuantity
			}
			if seen[line.ProductID] {
				return database.ErrDuplicateCartItem
			}
			seen[line.ProductID] = true

			var name string
			var stock, reserved int
			err := tx.QueryRowContext(ctx,
				`SELECT name, stock, reserved_stock FROM products WHERE id = $1`,
				line.ProductID).Scan(&name, &stock, &reserved)
			if err != nil {
				if err == sql.ErrNoRows {
					return database.ErrProductNotFound
				}
				return fmt.Errorf("check product %d: %w", line.ProductID, err)
			}

			if available := stock - reserved; line.Quantity > available {
				return &database.InsufficientStockError{
					ProductID:   line.ProductID,
					ProductName: name,
					Requested:   line.Quantity,
					Available:   available,
				}
			}
		}

		var cartID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO carts (user_id, created_at, updated_at)
			 VALUES ($1, NOW(), NOW())
			 ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
			 RETURNING id`,
			userID).Scan(&cartID)
		if err != nil {
			return fmt.Errorf("upsert cart: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart items: %w", err)
		}

		for _, line := range lines {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO cart_items (cart_id, product_id, quantity, added_at)
				 VALUES ($1, $2, $3, NOW())`,
				cartID, line.ProductID, line.Quantity)
			if err != nil {
				return fmt.Errorf("insert cart item: %w", err)
			}
		}

		return nil
	})
}

// clearCart removes the cart and its items inside the order-creation
// transaction.
func clearCart(ctx context.Context, tx *sql.Tx, cartID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
