package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/avelar/go-storefront/internal/models"
	"github.com/avelar/go-storefront/internal/store"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func runMigrations(db *sql.DB) error {
	migrationDir := "../../migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".up.sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		filePath := filepath.Join(migrationDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", filename, err)
		}
	}

	return nil
}

func seedUser(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, email, "Test", "Shopper")
	if err != nil {
		t.Fatalf("Seed user %s: %v", email, err)
	}
	return user
}

func seedCategory(t *testing.T, db *sql.DB, name string) *models.Category {
	t.Helper()
	category, err := store.CreateCategory(context.Background(), db, nil, name)
	if err != nil {
		t.Fatalf("Seed category %s: %v", name, err)
	}
	return category
}

func seedProduct(t *testing.T, db *sql.DB, categoryID int64, sku string, price float64, stock int) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, store.CreateProductRequest{
		SKU:        sku,
		CategoryID: categoryID,
		Name:       "Product " + sku,
		Price:      decimal.NewFromFloat(price),
		Stock:      stock,
	})
	if err != nil {
		t.Fatalf("Seed product %s: %v", sku, err)
	}
	return product
}

// placeOrder syncs the given lines into the user's cart and creates an
// order from it, the same path the API follows.
func placeOrder(t *testing.T, db *sql.DB, userID int64, lines []store.CartLine) *models.Order {
	t.Helper()
	order, err := placeOrderErr(db, userID, lines)
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}
	return order
}

func placeOrderErr(db *sql.DB, userID int64, lines []store.CartLine) (*models.Order, error) {
	ctx := context.Background()
	if err := store.SyncCart(ctx, db, userID, lines); err != nil {
		return nil, err
	}
	return store.CreateOrderFromCart(ctx, db, store.CreateOrderRequest{
		UserID:             userID,
		ShippingAddress:    "1 Test Street",
		ShippingCity:       "Testville",
		ShippingPostalCode: "12345",
		ShippingAmount:     decimal.NewFromFloat(5.99),
	})
}
