package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSaleCreated       = "SALE_CREATED"
	EventTypeSaleStatusChanged = "SALE_STATUS_CHANGED"
	EventTypeSaleDeleted       = "SALE_DELETED"
	EventTypeAccountLocked     = "ACCOUNT_LOCKED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleCreatedEvent published once a sale and its stock decrements are committed
type SaleCreatedEvent struct {
	BaseEvent
	SaleID        int64           `json:"sale_id"`
	InvoiceNumber string          `json:"invoice_number"`
	UserID        int64           `json:"user_id"`
	Total         decimal.Decimal `json:"total"`
	Lines         []SaleLineData  `json:"lines"`
}

// SaleStatusChangedEvent published when a sale is cancelled or voided
type SaleStatusChangedEvent struct {
	BaseEvent
	SaleID        int64  `json:"sale_id"`
	InvoiceNumber string `json:"invoice_number"`
	OldStatus     string `json:"old_status"`
	NewStatus     string `json:"new_status"`
}

// SaleDeletedEvent published when a sale is removed and its stock restored
type SaleDeletedEvent struct {
	BaseEvent
	SaleID        int64          `json:"sale_id"`
	InvoiceNumber string         `json:"invoice_number"`
	Lines         []SaleLineData `json:"lines"`
}

// AccountLockedEvent published when an account reaches the lockout threshold
type AccountLockedEvent struct {
	BaseEvent
	Account     string `json:"account"`
	FailedCount int    `json:"failed_count"`
	IPAddress   string `json:"ip_address"`
}

// SaleLineData represents line data in events
type SaleLineData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
