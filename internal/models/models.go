package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Identifiable is implemented by every persisted entity.
type Identifiable interface {
	EntityID() int64
}

// Product represents a product in the catalog
type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Code        string          `db:"code" json:"code"`
	Description string          `db:"description" json:"description"`
	CostPrice   decimal.Decimal `db:"cost_price" json:"cost_price"`
	SalePrice   decimal.Decimal `db:"sale_price" json:"sale_price"`
	Stock       int             `db:"stock" json:"stock"`
	MinStock    int             `db:"min_stock" json:"min_stock"`
	Active      bool            `db:"active" json:"active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

func (p Product) EntityID() int64 { return p.ID }

// IsLowStock reports whether stock is at or below the minimum threshold.
func (p Product) IsLowStock() bool {
	return p.Stock <= p.MinStock
}

// Client represents a customer a sale may be issued to
type Client struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Document  string    `db:"document" json:"document"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (c Client) EntityID() int64 { return c.ID }

// User represents an operator of the point of sale
type User struct {
	ID           int64        `db:"id" json:"id"`
	Email        string       `db:"email" json:"email"`
	Username     string       `db:"username" json:"username"`
	FullName     string       `db:"full_name" json:"full_name"`
	PasswordHash string       `db:"password_hash" json:"-"`
	Role         string       `db:"role" json:"role"`
	Active       bool         `db:"active" json:"active"`
	LastLoginAt  sql.NullTime `db:"last_login_at" json:"-"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

func (u User) EntityID() int64 { return u.ID }

// Sale represents an invoice header
type Sale struct {
	ID             int64           `db:"id" json:"id"`
	InvoiceNumber  string          `db:"invoice_number" json:"invoice_number"`
	SoldAt         time.Time       `db:"sold_at" json:"sold_at"`
	UserID         int64           `db:"user_id" json:"user_id"`
	UserName       string          `db:"user_name" json:"user_name"`
	ClientID       sql.NullInt64   `db:"client_id" json:"-"`
	ClientName     string          `db:"client_name" json:"client_name,omitempty"`
	ClientDocument string          `db:"client_document" json:"client_document,omitempty"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxRate        decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	Total          decimal.Decimal `db:"total" json:"total"`
	Status         string          `db:"status" json:"status"`
	Notes          string          `db:"notes" json:"notes"`
	IdempotencyKey sql.NullString  `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	Lines          []SaleLine      `db:"-" json:"lines,omitempty"`
}

func (s Sale) EntityID() int64 { return s.ID }

// SaleLine represents a product line within a sale. Name, code and price
// are snapshots taken when the sale was issued.
type SaleLine struct {
	ID          int64           `db:"id" json:"id"`
	SaleID      int64           `db:"sale_id" json:"sale_id"`
	LineNo      int             `db:"line_no" json:"line_no"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	ProductCode string          `db:"product_code" json:"product_code"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount    decimal.Decimal `db:"discount" json:"discount"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
}

func (l SaleLine) EntityID() int64 { return l.ID }

// LoginAttempt is the consecutive-failure record for one account
type LoginAttempt struct {
	ID            int64        `db:"id" json:"-"`
	Account       string       `db:"account" json:"account"`
	FailedCount   int          `db:"failed_count" json:"failed_count"`
	LastAttemptAt time.Time    `db:"last_attempt_at" json:"last_attempt_at"`
	LastIP        string       `db:"last_ip" json:"last_ip"`
	LastUserAgent string       `db:"last_user_agent" json:"last_user_agent"`
	Locked        bool         `db:"locked" json:"locked"`
	LockedAt      sql.NullTime `db:"locked_at" json:"-"`
}

func (a LoginAttempt) EntityID() int64 { return a.ID }

// Sale statuses
const (
	SaleStatusCompleted = "Completed"
	SaleStatusCancelled = "Cancelled"
	SaleStatusVoided    = "Voided"
)

// User roles
const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// IsValidSaleStatus reports whether s is a known sale status.
func IsValidSaleStatus(s string) bool {
	switch s {
	case SaleStatusCompleted, SaleStatusCancelled, SaleStatusVoided:
		return true
	}
	return false
}

// IsValidRole reports whether r is a known user role.
func IsValidRole(r string) bool {
	return r == RoleAdmin || r == RoleCashier
}
