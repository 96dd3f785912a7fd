package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-service/models"
)

// CatalogRepository reads products from the catalog database and owns the
// only write this service makes there: the stock decrement.
type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var p models.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, image, price, discount, delivery_charge, stock
		FROM products
		WHERE id = ?
	`, productID).Scan(&p.ID, &p.SellerID, &p.Title, &p.Image, &p.Price, &p.Discount, &p.DeliveryCharge, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product %s: %w", productID, err)
	}
	return &p, nil
}

// DecrementStock subtracts quantity only when enough stock is left, so
// concurrent confirmations can never drive stock below zero.
func (r *CatalogRepository) DecrementStock(ctx context.Context, productID string, quantity int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?
		WHERE id = ? AND stock >= ?
	`, quantity, productID, quantity)
	if err != nil {
		return fmt.Errorf("failed to decrement stock of %s: %w", productID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read decrement result of %s: %w", productID, err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, "SELECT 1 FROM products WHERE id = ?", productID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check product %s: %w", productID, err)
	}
	return ErrStockExhausted
}
