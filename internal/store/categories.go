package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/avelar/go-storefront/internal/cache"
	"github.com/avelar/go-storefront/internal/database"
	"github.com/avelar/go-storefront/internal/models"
)

// Category listings are read far more often than they change, so the list is
// served read-through from the cache and the key is dropped synchronously on
// every mutation. Cache trouble is logged and the database answers instead.
const categoriesCacheKey = "catalog:categories"

func CreateCategory(ctx context.Context, db *sql.DB, c *cache.Cache, name string) (*models.Category, error) {
	category := &models.Category{}
	err := db.QueryRowContext(ctx,
		`INSERT INTO categories (name, created_at, updated_at)
		 VALUES ($1, NOW(), NOW())
		 RETURNING id, name, created_at, updated_at`,
		name).Scan(&category.ID, &category.Name, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}

	invalidateCategories(ctx, c)
	return category, nil
}

func GetCategory(ctx context.Context, db *sql.DB, id int64) (*models.Category, error) {
	category := &models.Category{}
	err := db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM categories WHERE id = $1`,
		id).Scan(&category.ID, &category.Name, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return category, nil
}

func UpdateCategory(ctx context.Context, db *sql.DB, c *cache.Cache, id int64, name string) (*models.Category, error) {
	category := &models.Category{}
	err := db.QueryRowContext(ctx,
		`UPDATE categories SET name = $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING id, name, created_at, updated_at`,
		name, id).Scan(&category.ID, &category.Name, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("update category: %w", err)
	}

	invalidateCategories(ctx, c)
	return category, nil
}

func DeleteCategory(ctx context.Context, db *sql.DB, c *cache.Cache, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrCategoryNotFound
	}

	invalidateCategories(ctx, c)
	return nil
}

func ListCategories(ctx context.Context, db *sql.DB, c *cache.Cache) ([]models.Category, error) {
	var categories []models.Category
	hit, err := c.GetJSON(ctx, categoriesCacheKey, &categories)
	if err != nil {
		log.Printf("category cache read failed, falling back to database: %v", err)
	}
	if hit {
		return categories, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories = categories[:0]
	for rows.Next() {
		var category models.Category
		if err := rows.Scan(&category.ID, &category.Name, &category.CreatedAt, &category.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := c.SetJSON(ctx, categoriesCacheKey, categories); err != nil {
		log.Printf("category cache write failed: %v", err)
	}

	return categories, nil
}

func invalidateCategories(ctx context.Context, c *cache.Cache) {
	if err := c.Delete(ctx, categoriesCacheKey); err != nil {
		log.Printf("category cache invalidation failed: %v", err)
	}
}
