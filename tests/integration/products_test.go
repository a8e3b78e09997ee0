package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/avelar/go-storefront/internal/database"
	"github.com/avelar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

func TestCreateAndGetProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	category := seedCategory(t, db, "Audio")

	minQty := 10
	discounted := decimal.NewFromFloat(89.90)
	created, err := store.CreateProduct(ctx, db, store.CreateProductRequest{
		SKU:                    "PROD-001",
		CategoryID:             category.ID,
		Name:                   "Headphones",
		Description:            "Over-ear",
		Price:                  decimal.NewFromFloat(99.90),
		Stock:                  25,
		HasQuantityDiscount:    true,
		MinQuantityForDiscount: &minQty,
		DiscountedPrice:        &discounted,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	if created.ID == 0 {
		t.Error("Product ID should not be 0")
	}
	if created.ReservedStock != 0 {
		t.Errorf("New product should have no reservations, got %d", created.ReservedStock)
	}

	fetched, err := store.GetProduct(ctx, db, created.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if fetched.SKU != "PROD-001" || !fetched.Price.Equal(decimal.NewFromFloat(99.90)) {
		t.Errorf("Unexpected product: %+v", fetched)
	}
	if fetched.MinQuantityForDiscount == nil || *fetched.MinQuantityForDiscount != 10 {
		t.Errorf("Discount threshold not persisted: %+v", fetched.MinQuantityForDiscount)
	}

	_, err = store.GetProduct(ctx, db, 999999)
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found error, got: %v", err)
	}
}

func TestUpdateProductCatalogFields(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	category := seedCategory(t, db, "Displays")
	product := seedProduct(t, db, category.ID, "PROD-002", 300.00, 10)

	newName := "Monitor 27in"
	newPrice := decimal.NewFromFloat(279.00)
	updated, err := store.UpdateProduct(ctx, db, product.ID, store.UpdateProductRequest{
		Name:  &newName,
		Price: &newPrice,
	})
	if err != nil {
		t.Fatalf("Update product: %v", err)
	}
	if updated.Name != newName || !updated.Price.Equal(newPrice) {
		t.Errorf("Update not applied: %+v", updated)
	}
	if updated.Stock != 10 {
		t.Errorf("Catalog update must not touch stock, got %d", updated.Stock)
	}
	if updated.Version != product.Version+1 {
		t.Errorf("Expected version bump to %d, got %d", product.Version+1, updated.Version)
	}
}

func TestUpdateProductRejectsBadDiscount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	category := seedCategory(t, db, "Cameras")
	product := seedProduct(t, db, category.ID, "PROD-003", 100.00, 5)

	enabled := true
	minQty := 3
	tooHigh := decimal.NewFromFloat(150.00)
	_, err := store.UpdateProduct(ctx, db, product.ID, store.UpdateProductRequest{
		HasQuantityDiscount:    &enabled,
		MinQuantityForDiscount: &minQty,
		DiscountedPrice:        &tooHigh,
	})
	if err == nil {
		t.Error("Expected discounted price above list price to be rejected")
	}
}

func TestCorrectStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := seedUser(t, db, "products1@example.com")
	category := seedCategory(t, db, "Warehouse")
	product := seedProduct(t, db, category.ID, "PROD-004", 10.00, 20)

	placeOrder(t, db, user.ID, []store.CartLine{{ProductID: product.ID, Quantity: 8}})

	// Stocktake up.
	corrected, err := store.CorrectStock(ctx, db, product.ID, 30)
	if err != nil {
		t.Fatalf("Correct stock: %v", err)
	}
	if corrected.Stock != 30 || corrected.ReservedStock != 8 {
		t.Errorf("Expected stock 30 / reserved 8, got %d / %d", corrected.Stock, corrected.ReservedStock)
	}

	// Stocktake below the outstanding reservation clamps reserved down so
	// the counters stay coherent.
	corrected, err = store.CorrectStock(ctx, db, product.ID, 5)
	if err != nil {
		t.Fatalf("Correct stock below reservation: %v", err)
	}
	if corrected.Stock != 5 || corrected.ReservedStock != 5 {
		t.Errorf("Expected stock 5 / reserved 5, got %d / %d", corrected.Stock, corrected.ReservedStock)
	}
	if corrected.AvailableStock() != 0 {
		t.Errorf("Expected available 0, got %d", corrected.AvailableStock())
	}

	if _, err := store.CorrectStock(ctx, db, product.ID, -1); err == nil {
		t.Error("Expected negative stock correction to be rejected")
	}
}

func TestListProducts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	category := seedCategory(t, db, "Bulk List")
	for i := 0; i < 12; i++ {
		seedProduct(t, db, category.ID, fmt.Sprintf("PROD-L%02d", i), 10.00, 5)
	}

	page1, err := store.ListProducts(ctx, db, 1, 10)
	if err != nil {
		t.Fatalf("List products page 1: %v", err)
	}
	if page1.Total != 12 {
		t.Errorf("Expected total 12, got %d", page1.Total)
	}
	if page1.TotalPages != 2 {
		t.Errorf("Expected 2 pages, got %d", page1.TotalPages)
	}

	page2, err := store.ListProducts(ctx, db, 2, 10)
	if err != nil {
		t.Fatalf("List products page 2: %v", err)
	}
	if page2.Page != 2 {
		t.Errorf("Expected page 2, got %d", page2.Page)
	}
}
