package store

import (
	"context"
	"fmt"
	"time"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.get(ctx, &product, "SELECT * FROM products WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err, "product %d", id)
	}
	return &product, nil
}

// GetProductByCode retrieves a product by its unique code
func (s *Store) GetProductByCode(ctx context.Context, code string) (*models.Product, error) {
	var product models.Product
	err := s.get(ctx, &product, "SELECT * FROM products WHERE code = ?", code)
	if err != nil {
		return nil, notFound(err, "product %s", code)
	}
	return &product, nil
}

// ListProducts retrieves products ordered by name
func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := "SELECT * FROM products"
	if activeOnly {
		query += " WHERE active = TRUE"
	}
	query += " ORDER BY name, id"

	products := []models.Product{}
	err := s.selectAll(ctx, &products, query)
	return products, err
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}

	var products []models.Product
	err = s.selectAll(ctx, &products, query, args...)
	return products, err
}

// CreateProduct inserts a new product and sets its ID
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	err := s.get(ctx, &p.ID, `
		INSERT INTO products (name, code, description, cost_price, sale_price, stock, min_stock, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		p.Name, p.Code, p.Description, p.CostPrice, p.SalePrice, p.Stock, p.MinStock, p.Active, p.CreatedAt, p.UpdatedAt)
	if uniqueViolation(err, "code") {
		return fmt.Errorf("%w: product code %s", ErrDuplicate, p.Code)
	}
	return err
}

// UpdateProduct updates product master data. Stock is owned by the stock
// ledger and is not written here.
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = time.Now().UTC()

	res, err := s.exec(ctx, `
		UPDATE products
		SET name = ?, code = ?, description = ?, cost_price = ?, sale_price = ?, min_stock = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Code, p.Description, p.CostPrice, p.SalePrice, p.MinStock, p.Active, p.UpdatedAt, p.ID)
	if err != nil {
		if uniqueViolation(err, "code") {
			return fmt.Errorf("%w: product code %s", ErrDuplicate, p.Code)
		}
		return err
	}
	return requireAffected(res, "product %d", p.ID)
}

// DeactivateProduct marks a product inactive; products are never deleted
func (s *Store) DeactivateProduct(ctx context.Context, id int64) error {
	res, err := s.exec(ctx,
		"UPDATE products SET active = FALSE, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "product %d", id)
}

// DecrementStock subtracts quantity from an active product only when enough
// stock is on hand. It reports false when no row qualified; the caller
// re-reads the product to find out why.
func (s *Store) DecrementStock(ctx context.Context, productID int64, quantity int, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE products
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND active = TRUE AND stock >= ?`,
		quantity, at, productID, quantity)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// WithdrawStock subtracts quantity from a product, active or not, only when
// enough stock is on hand. It reports false when no row qualified.
func (s *Store) WithdrawStock(ctx context.Context, productID int64, quantity int, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE products
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?`,
		quantity, at, productID, quantity)
	if err != nil {
		return false, fmt.Errorf("failed to withdraw stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementStock adds quantity back to a product unconditionally
func (s *Store) IncrementStock(ctx context.Context, productID int64, quantity int, at time.Time) error {
	res, err := s.exec(ctx,
		"UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?",
		quantity, at, productID)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	return requireAffected(res, "product %d", productID)
}

func requireAffected(res interface{ RowsAffected() (int64, error) }, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return nil
}
