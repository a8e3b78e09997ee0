package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/avelar/go-storefront/internal/database"
	"github.com/avelar/go-storefront/internal/metrics"
	"github.com/avelar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, category_id, name, description, price, stock, reserved_stock,
	has_quantity_discount, min_quantity_for_discount, discounted_price,
	discount_start_date, discount_end_date, created_at, updated_at, version`

func scanProduct(row interface{ Scan(...any) error }) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.CategoryID,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Stock,
		&product.ReservedStock,
		&product.HasQuantityDiscount,
		&product.MinQuantityForDiscount,
		&product.DiscountedPrice,
		&product.DiscountStartDate,
		&product.DiscountEndDate,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}

type CreateProductRequest struct {
	SKU         string
	CategoryID  int64
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int

	HasQuantityDiscount    bool
	MinQuantityForDiscount *int
	DiscountedPrice        *decimal.Decimal
	DiscountStartDate      *time.Time
	DiscountEndDate        *time.Time
}

func CreateProduct(ctx context.Context, db *sql.DB, req CreateProductRequest) (*models.Product, error) {
	query := `
		INSERT INTO products (sku, category_id, name, description, price, stock, reserved_stock,
			has_quantity_discount, min_quantity_for_discount, discounted_price,
			discount_start_date, discount_end_date, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $11, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query,
		req.SKU, req.CategoryID, req.Name, req.Description, req.Price, req.Stock,
		req.HasQuantityDiscount, req.MinQuantityForDiscount, req.DiscountedPrice,
		req.DiscountStartDate, req.DiscountEndDate))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// lockProduct reads a product row under FOR UPDATE so that every
// stock/reservation mutation in the enclosing transaction sees, and acts on,
// current values.
func lockProduct(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	product, err := scanProduct(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product %d: %w", id, err)
	}

	return product, nil
}

// reserveStock allocates quantity units of a locked product to an unpaid
// order by raising reserved_stock. Total stock is untouched. The conditional
// WHERE clause re-checks availability at write time so a stale read can never
// oversell.
func reserveStock(ctx context.Context, tx *sql.Tx, product *models.Product, quantity int) error {
	if product.AvailableStock() < quantity {
		return &database.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   quantity,
			Available:   product.AvailableStock(),
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET reserved_stock = reserved_stock + $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND stock - reserved_stock >= $1`,
		quantity, product.ID)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &database.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   quantity,
			Available:   product.AvailableStock(),
		}
	}

	return nil
}

// releaseReservation gives quantity reserved units back to the pool on
// cancellation. Stock is untouched since nothing was ever deducted.
// reserved_stock is floored at zero; hitting the floor means the counters
// had already drifted, so it is logged and counted as an anomaly.
func releaseReservation(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	product, err := lockProduct(ctx, tx, productID)
	if err != nil {
		return err
	}

	reserved := product.ReservedStock - quantity
	if reserved < 0 {
		log.Printf("anomaly: releasing %d units of product %d with only %d reserved, clamping to 0",
			quantity, productID, product.ReservedStock)
		metrics.RecordStockAnomaly()
		reserved = 0
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE products
		 SET reserved_stock = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2`,
		reserved, productID)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}

	return nil
}

// confirmReservation converts quantity reserved units into a permanent
// deduction on payment: stock and reserved_stock both drop by the line
// quantity. This is the only place a reservation becomes a deduction.
func confirmReservation(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	product, err := lockProduct(ctx, tx, productID)
	if err != nil {
		return err
	}

	stock := product.Stock - quantity
	if stock < 0 {
		log.Printf("anomaly: confirming %d units of product %d with only %d in stock, clamping to 0",
			quantity, productID, product.Stock)
		metrics.RecordStockAnomaly()
		stock = 0
	}
	reserved := product.ReservedStock - quantity
	if reserved < 0 {
		log.Printf("anomaly: confirming %d units of product %d with only %d reserved, clamping to 0",
			quantity, productID, product.ReservedStock)
		metrics.RecordStockAnomaly()
		reserved = 0
	}
	if reserved > stock {
		// Keep reserved_stock <= stock holding even when both clamps fired.
		reserved = stock
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE products
		 SET stock = $1, reserved_stock = $2, updated_at = NOW(), version = version + 1
		 WHERE id = $3`,
		stock, reserved, productID)
	if err != nil {
		return fmt.Errorf("confirm reservation: %w", err)
	}

	return nil
}

// CorrectStock is the catalog-admin stock override. A manual reduction below
// the current reservation clamps the reservation down to the new stock so
// reserved_stock <= stock keeps holding; the clamp is logged as an anomaly
// because it means unpaid orders now hold units the business no longer owns.
func CorrectStock(ctx context.Context, db *sql.DB, productID int64, newStock int) (*models.Product, error) {
	if newStock < 0 {
		return nil, fmt.Errorf("stock must not be negative")
	}

	var product *models.Product
	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		locked, err := lockProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		reserved := locked.ReservedStock
		if reserved > newStock {
			log.Printf("anomaly: stock correction on product %d to %d drops below %d reserved units, clamping reservation",
				productID, newStock, reserved)
			metrics.RecordStockAnomaly()
			reserved = newStock
		}

		row := tx.QueryRowContext(ctx,
			`UPDATE products
			 SET stock = $1, reserved_stock = $2, updated_at = NOW(), version = version + 1
			 WHERE id = $3
			 RETURNING `+productColumns,
			newStock, reserved, productID)

		product, err = scanProduct(row)
		if err != nil {
			return fmt.Errorf("correct stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

type UpdateProductRequest struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal

	HasQuantityDiscount    *bool
	MinQuantityForDiscount *int
	DiscountedPrice        *decimal.Decimal
	DiscountStartDate      *time.Time
	DiscountEndDate        *time.Time
}

// UpdateProduct edits catalog fields. Stock and reserved stock are off limits
// here; they move only through the order lifecycle and CorrectStock.
func UpdateProduct(ctx context.Context, db *sql.DB, productID int64, req UpdateProductRequest) (*models.Product, error) {
	var product *models.Product
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := lockProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		if req.Name != nil {
			current.Name = *req.Name
		}
		if req.Description != nil {
			current.Description = *req.Description
		}
		if req.Price != nil {
			current.Price = *req.Price
		}
		if req.HasQuantityDiscount != nil {
			current.HasQuantityDiscount = *req.HasQuantityDiscount
		}
		if req.MinQuantityForDiscount != nil {
			current.MinQuantityForDiscount = req.MinQuantityForDiscount
		}
		if req.DiscountedPrice != nil {
			current.DiscountedPrice = req.DiscountedPrice
		}
		if req.DiscountStartDate != nil {
			current.DiscountStartDate = req.DiscountStartDate
		}
		if req.DiscountEndDate != nil {
			current.DiscountEndDate = req.DiscountEndDate
		}

		if current.DiscountedPrice != nil && current.DiscountedPrice.GreaterThanOrEqual(current.Price) {
			return fmt.Errorf("discounted price must be lower than price")
		}

		row := tx.QueryRowContext(ctx,
			`UPDATE products
			 SET name = $1, description = $2, price = $3,
			     has_quantity_discount = $4, min_quantity_for_discount = $5,
			     discounted_price = $6, discount_start_date = $7, discount_end_date = $8,
			     updated_at = NOW(), version = version + 1
			 WHERE id = $9
			 RETURNING `+productColumns,
			current.Name, current.Description, current.Price,
			current.HasQuantityDiscount, current.MinQuantityForDiscount,
			current.DiscountedPrice, current.DiscountStartDate, current.DiscountEndDate,
			productID)

		product, err = scanProduct(row)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}
