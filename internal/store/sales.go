package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pos-service/internal/models"
)

// SaleFilter narrows ListSales. Zero values are ignored.
type SaleFilter struct {
	From     time.Time
	To       time.Time
	UserID   int64
	ClientID int64
	Status   string
	Limit    int
}

// InsertSale inserts a sale header and sets its ID
func (s *Store) InsertSale(ctx context.Context, sale *models.Sale) error {
	err := s.get(ctx, &sale.ID, `
		INSERT INTO sales (
			invoice_number, sold_at, user_id, user_name, client_id, client_name, client_document,
			subtotal, tax_rate, tax_amount, total, status, notes, idempotency_key, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		sale.InvoiceNumber, sale.SoldAt, sale.UserID, sale.UserName, sale.ClientID, sale.ClientName, sale.ClientDocument,
		sale.Subtotal, sale.TaxRate, sale.TaxAmount, sale.Total, sale.Status, sale.Notes, sale.IdempotencyKey,
		sale.CreatedAt, sale.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case uniqueViolation(err, "invoice_number"):
		return fmt.Errorf("%w: %s", ErrDuplicateInvoiceNumber, sale.InvoiceNumber)
	case uniqueViolation(err, "idempotency_key"):
		return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, sale.IdempotencyKey.String)
	default:
		return fmt.Errorf("failed to insert sale: %w", err)
	}
}

// InsertSaleLine inserts a sale line and sets its ID
func (s *Store) InsertSaleLine(ctx context.Context, line *models.SaleLine) error {
	err := s.get(ctx, &line.ID, `
		INSERT INTO sale_lines (sale_id, line_no, product_id, product_name, product_code, quantity, unit_price, discount, line_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		line.SaleID, line.LineNo, line.ProductID, line.ProductName, line.ProductCode,
		line.Quantity, line.UnitPrice, line.Discount, line.LineTotal)
	if err != nil {
		return fmt.Errorf("failed to insert sale line: %w", err)
	}
	return nil
}

// GetSaleByID retrieves a sale header by ID
func (s *Store) GetSaleByID(ctx context.Context, id int64) (*models.Sale, error) {
	var sale models.Sale
	err := s.get(ctx, &sale, "SELECT * FROM sales WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err, "sale %d", id)
	}
	return &sale, nil
}

// GetSaleForUpdate retrieves a sale header and locks its row until the
// surrounding transaction ends
func (s *Store) GetSaleForUpdate(ctx context.Context, id int64) (*models.Sale, error) {
	var sale models.Sale
	err := s.get(ctx, &sale, "SELECT * FROM sales WHERE id = ?"+s.forUpdate(), id)
	if err != nil {
		return nil, notFound(err, "sale %d", id)
	}
	return &sale, nil
}

// GetSaleByIdempotencyKey retrieves a sale by idempotency key
func (s *Store) GetSaleByIdempotencyKey(ctx context.Context, key string) (*models.Sale, error) {
	var sale models.Sale
	err := s.get(ctx, &sale, "SELECT * FROM sales WHERE idempotency_key = ?", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// GetSaleLines retrieves all lines for a sale in their original order
func (s *Store) GetSaleLines(ctx context.Context, saleID int64) ([]models.SaleLine, error) {
	lines := []models.SaleLine{}
	err := s.selectAll(ctx, &lines,
		"SELECT * FROM sale_lines WHERE sale_id = ? ORDER BY line_no", saleID)
	return lines, err
}

// UpdateSaleStatusNotes updates the administrative fields of a sale
func (s *Store) UpdateSaleStatusNotes(ctx context.Context, id int64, status, notes string, at time.Time) error {
	res, err := s.exec(ctx,
		"UPDATE sales SET status = ?, notes = ?, updated_at = ? WHERE id = ?",
		status, notes, at, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "sale %d", id)
}

// DeleteSale removes a sale and its lines
func (s *Store) DeleteSale(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, "DELETE FROM sale_lines WHERE sale_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete sale lines: %w", err)
	}
	res, err := s.exec(ctx, "DELETE FROM sales WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete sale: %w", err)
	}
	return requireAffected(res, "sale %d", id)
}

// ListSales retrieves sales matching the filter, newest first
func (s *Store) ListSales(ctx context.Context, f SaleFilter) ([]models.Sale, error) {
	var (
		conds []string
		args  []interface{}
	)
	if !f.From.IsZero() {
		conds = append(conds, "sold_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		conds = append(conds, "sold_at <= ?")
		args = append(args, f.To)
	}
	if f.UserID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ClientID != 0 {
		conds = append(conds, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT * FROM sales"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sold_at DESC, id DESC"

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	sales := []models.Sale{}
	err := s.selectAll(ctx, &sales, query, args...)
	return sales, err
}

// LastIssuedInvoiceNumber returns the highest invoice number stored with the
// given prefix, or "" when none exist. Numbers share a fixed width so the
// lexical maximum is the numeric maximum until the width overflows; the
// longest numbers are therefore ranked first.
func (s *Store) LastIssuedInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	var number string
	err := s.get(ctx, &number, `
		SELECT invoice_number FROM sales
		WHERE invoice_number LIKE ?
		ORDER BY LENGTH(invoice_number) DESC, invoice_number DESC
		LIMIT 1`,
		prefix+"-%")
	if err == sql.ErrNoRows {
		return "", nil
	}
	return number, err
}
