package service

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is. The structured errors below unwrap
// to these.
var (
	ErrEmptyOrder             = errors.New("sale must contain at least one line")
	ErrInvalidLine            = errors.New("invalid sale line")
	ErrProductNotFound        = errors.New("product not found")
	ErrProductInactive        = errors.New("product inactive")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrSaleNotFound           = errors.New("sale not found")
	ErrInvalidSaleState       = errors.New("invalid sale state")
	ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")
	ErrAccountLocked          = errors.New("account locked")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrRequestInProgress      = errors.New("request with this idempotency key is in progress")
)

// ProductNotFoundError identifies the missing product.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d does not exist", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// ProductInactiveError identifies a deactivated product that was ordered.
type ProductInactiveError struct {
	ProductID int64
	Name      string
}

func (e *ProductInactiveError) Error() string {
	return fmt.Sprintf("product %d (%s) is inactive", e.ProductID, e.Name)
}

func (e *ProductInactiveError) Unwrap() error { return ErrProductInactive }

// InsufficientStockError reports how much of a product was available when a
// reservation was refused.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (product %d): available %d, requested %d",
		e.Name, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidLineError describes which request line failed validation.
type InvalidLineError struct {
	Line   int
	Reason string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *InvalidLineError) Unwrap() error { return ErrInvalidLine }

// InvalidSaleStateError reports an operation not permitted in the sale's status.
type InvalidSaleStateError struct {
	SaleID    int64
	Status    string
	Operation string
}

func (e *InvalidSaleStateError) Error() string {
	return fmt.Sprintf("cannot %s sale %d (status %s)", e.Operation, e.SaleID, e.Status)
}

func (e *InvalidSaleStateError) Unwrap() error { return ErrInvalidSaleState }

// DuplicateInvoiceNumberError is raised if a generated number collides with a
// stored one. The sequence makes this unreachable unless the table was edited
// by hand.
type DuplicateInvoiceNumberError struct {
	InvoiceNumber string
}

func (e *DuplicateInvoiceNumberError) Error() string {
	return fmt.Sprintf("invoice number %s already issued", e.InvoiceNumber)
}

func (e *DuplicateInvoiceNumberError) Unwrap() error { return ErrDuplicateInvoiceNumber }

// AccountLockedError is returned for any login attempt against a locked account.
type AccountLockedError struct {
	Account     string
	FailedCount int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account %s is locked after %d failed attempts", e.Account, e.FailedCount)
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// ErrorKind maps a service error to the stable kind string reported to API
// clients. Unknown errors map to "internal".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrEmptyOrder):
		return "empty_order"
	case errors.Is(err, ErrInvalidLine):
		return "invalid_line"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrProductInactive):
		return "product_inactive"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrSaleNotFound):
		return "sale_not_found"
	case errors.Is(err, ErrInvalidSaleState):
		return "invalid_sale_state"
	case errors.Is(err, ErrDuplicateInvoiceNumber):
		return "duplicate_invoice_number"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrRequestInProgress):
		return "request_in_progress"
	case errors.Is(err, ErrClientNotFound):
		return "client_not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDuplicateCode):
		return "duplicate_code"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrDuplicateUser):
		return "duplicate_user"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrLastAdmin):
		return "last_admin"
	default:
		return "internal"
	}
}
