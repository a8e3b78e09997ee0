package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/avelar/go-storefront/internal/database"
	"github.com/avelar/go-storefront/internal/store"
)

func TestSyncCartReplacesContents(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := seedUser(t, db, "cart1@example.com")
	category := seedCategory(t, db, "Kitchen")
	product1 := seedProduct(t, db, category.ID, "CART-001", 10.00, 50)
	product2 := seedProduct(t, db, category.ID, "CART-002", 20.00, 50)

	err := store.SyncCart(ctx, db, user.ID, []store.CartLine{
		{ProductID: product1.ID, Quantity: 2},
		{ProductID: product2.ID, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Sync cart: %v", err)
	}

	cart, err := store.GetCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("Expected 2 cart items, got %d", len(cart.Items))
	}

	// A second sync is a full replacement, not a merge.
	err = store.SyncCart(ctx, db, user.ID, []store.CartLine{
		{ProductID: product2.ID, Quantity: 5},
	})
	if err != nil {
		t.Fatalf("Second sync: %v", err)
	}

	cart, err = store.GetCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("Expected 1 cart item after replacement, got %d", len(cart.Items))
	}
	if cart.Items[0].ProductID != product2.ID || cart.Items[0].Quantity != 5 {
		t.Errorf("Unexpected cart line: product %d quantity %d", cart.Items[0].ProductID, cart.Items[0].Quantity)
	}
}

func TestSyncCartAllOrNothing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := seedUser(t, db, "cart2@example.com")
	category := seedCategory(t, db, "Pets")
	good := seedProduct(t, db, category.ID, "CART-003", 10.00, 50)
	scarce := seedProduct(t, db, category.ID, "CART-004", 10.00, 2)

	if err := store.SyncCart(ctx, db, user.ID, []store.CartLine{{ProductID: good.ID, Quantity: 1}}); err != nil {
		t.Fatalf("Initial sync: %v", err)
	}

	// One bad line rejects the whole batch and leaves the previous cart
	// untouched.
	err := store.SyncCart(ctx, db, user.ID, []store.CartLine{
		{ProductID: good.ID, Quantity: 3},
		{ProductID: scarce.ID, Quantity: 5},
	})
	if !database.IsInsufficientStock(err) {
		t.Errorf("Expected insufficient stock error, got: %v", err)
	}

	cart, err := store.GetCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != good.ID || cart.Items[0].Quantity != 1 {
		t.Errorf("Failed sync must leave the previous cart intact, got %+v", cart.Items)
	}
}

func TestSyncCartValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user := seedUser(t, db, "cart3@example.com")
	category := seedCategory(t, db, "Tools")
	product := seedProduct(t, db, category.ID, "CART-005", 10.00, 50)

	err := store.SyncCart(ctx, db, user.ID, []store.CartLine{{ProductID: product.ID, Quantity: 0}})
	if !errors.Is(err, database.ErrInvalidQuantity) {
		t.Errorf("Expected invalid quantity error, got: %v", err)
	}

	err = store.SyncCart(ctx, db, user.ID, []store.CartLine{{ProductID: 999999, Quantity: 1}})
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found error, got: %v", err)
	}

	err = store.SyncCart(ctx, db, 999999, []store.CartLine{{ProductID: product.ID, Quantity: 1}})
	if !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("Expected user not found error, got: %v", err)
	}

	// The same product twice is one line's business, not two.
	err = store.SyncCart(ctx, db, user.ID, []store.CartLine{
		{ProductID: product.ID, Quantity: 1},
		{ProductID: product.ID, Quantity: 2},
	})
	if !errors.Is(err, database.ErrDuplicateCartItem) {
		t.Errorf("Expected duplicate cart item error, got: %v", err)
	}

	// An empty sync clears the cart.
	if err := store.SyncCart(ctx, db, user.ID, nil); err != nil {
		t.Fatalf("Empty sync: %v", err)
	}
	cart, err := store.GetCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("Expected empty cart, got %d items", len(cart.Items))
	}
}

func TestGetCartWithoutSync(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	user := seedUser(t, db, "cart4@example.com")

	cart, err := store.GetCart(context.Background(), db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("Expected empty cart for fresh user, got %d items", len(cart.Items))
	}
}
