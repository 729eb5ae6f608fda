package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaleService coordinates sale creation, administrative updates and deletion
type SaleService struct {
	store     *store.Store
	sequence  *InvoiceSequence
	ledger    *StockLedger
	publisher EventPublisher
	locker    IdempotencyLocker
	taxRate   decimal.Decimal
	lockTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// SaleOptions carries the business settings of the sale pipeline
type SaleOptions struct {
	TaxRate            decimal.Decimal
	IdempotencyLockTTL time.Duration
}

// NewSaleService creates a new sale service. publisher and locker may be nil.
func NewSaleService(
	store *store.Store,
	sequence *InvoiceSequence,
	ledger *StockLedger,
	publisher EventPublisher,
	locker IdempotencyLocker,
	opts SaleOptions,
) *SaleService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if opts.IdempotencyLockTTL <= 0 {
		opts.IdempotencyLockTTL = 30 * time.Second
	}
	return &SaleService{
		store:     store,
		sequence:  sequence,
		ledger:    ledger,
		publisher: publisher,
		locker:    locker,
		taxRate:   opts.TaxRate,
		lockTTL:   opts.IdempotencyLockTTL,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CreateSaleRequest represents a request to create a sale
type CreateSaleRequest struct {
	UserID         int64             `json:"-"`
	ClientID       *int64            `json:"client_id,omitempty"`
	Lines          []SaleLineRequest `json:"lines"`
	Notes          string            `json:"notes,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// SaleLineRequest represents a line in a sale request
type SaleLineRequest struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
}

// CreateSaleResponse represents the response after creating a sale
type CreateSaleResponse struct {
	SaleID        int64           `json:"sale_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"status"`
	Replayed      bool            `json:"replayed,omitempty"`
}

// UpdateSaleRequest carries the administrative fields of a sale. Nil fields
// are left unchanged.
type UpdateSaleRequest struct {
	Status *string `json:"status,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

// CreateSale validates a sale, takes an invoice number and commits the header,
// its lines and every stock decrement as one unit of work.
func (s *SaleService) CreateSale(ctx context.Context, req *CreateSaleRequest) (*CreateSaleResponse, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.CreateSale")
	defer span.End()

	if len(req.Lines) == 0 {
		util.SalesFailedTotal.WithLabelValues(ErrorKind(ErrEmptyOrder)).Inc()
		return nil, ErrEmptyOrder
	}

	if req.IdempotencyKey != "" {
		release, err := s.lockIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()

		existing, err := s.store.GetSaleByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate sale request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("sale_id", existing.ID))
			return replayResponse(existing), nil
		}
	}

	lines, reservations, subtotal, err := s.buildLines(ctx, req.Lines)
	if err != nil {
		util.SalesFailedTotal.WithLabelValues(ErrorKind(err)).Inc()
		return nil, err
	}

	userName, err := s.resolveUserName(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	client, err := s.resolveClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	invoiceNumber, err := s.sequence.Next(ctx)
	if err != nil {
		util.SalesFailedTotal.WithLabelValues("sequence_error").Inc()
		return nil, fmt.Errorf("failed to generate invoice number: %w", err)
	}

	tax := subtotal.Mul(s.taxRate)
	now := s.now().UTC()
	sale := &models.Sale{
		InvoiceNumber: invoiceNumber,
		SoldAt:        now,
		UserID:        req.UserID,
		UserName:      userName,
		Subtotal:      subtotal,
		TaxRate:       s.taxRate,
		TaxAmount:     tax,
		Total:         subtotal.Add(tax),
		Status:        models.SaleStatusCompleted,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.ClientID != nil {
		sale.ClientID = sql.NullInt64{Int64: *req.ClientID, Valid: true}
	}
	if client != nil {
		sale.ClientName = client.Name
		sale.ClientDocument = client.Document
	}
	if req.IdempotencyKey != "" {
		sale.IdempotencyKey = sql.NullString{String: req.IdempotencyKey, Valid: true}
	}

	err = s.store.RunAtomic(ctx, func(tx *store.Store) error {
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		for i := range lines {
			lines[i].SaleID = sale.ID
			if err := tx.InsertSaleLine(ctx, &lines[i]); err != nil {
				return err
			}
		}
		return s.ledger.ReserveAll(ctx, tx, reservations)
	})
	if err != nil {
		return s.handleCreateFailure(ctx, req, invoiceNumber, err)
	}
	sale.Lines = lines

	util.SalesCreatedTotal.Inc()
	s.logger.Info("Sale created",
		zap.Int64("sale_id", sale.ID),
		zap.String("invoice_number", sale.InvoiceNumber),
		zap.String("total", sale.Total.String()))

	s.publishSaleCreated(ctx, sale)

	return &CreateSaleResponse{
		SaleID:        sale.ID,
		InvoiceNumber: sale.InvoiceNumber,
		Total:         sale.Total,
		Status:        sale.Status,
	}, nil
}

// handleCreateFailure translates a failed unit of work. The transaction has
// already been rolled back; the invoice number stays unused.
func (s *SaleService) handleCreateFailure(ctx context.Context, req *CreateSaleRequest, invoiceNumber string, err error) (*CreateSaleResponse, error) {
	switch {
	case errors.Is(err, store.ErrDuplicateIdempotencyKey):
		existing, lookupErr := s.store.GetSaleByIdempotencyKey(ctx, req.IdempotencyKey)
		if lookupErr == nil && existing != nil {
			return replayResponse(existing), nil
		}
	case errors.Is(err, store.ErrDuplicateInvoiceNumber):
		err = &DuplicateInvoiceNumberError{InvoiceNumber: invoiceNumber}
	}

	util.SalesFailedTotal.WithLabelValues(ErrorKind(err)).Inc()
	s.logger.Warn("Sale aborted",
		zap.String("invoice_number", invoiceNumber),
		zap.Int64("user_id", req.UserID),
		zap.Error(err))
	return nil, err
}

// buildLines looks up each product, validates the line and computes its
// total. It performs no writes.
func (s *SaleService) buildLines(ctx context.Context, reqLines []SaleLineRequest) ([]models.SaleLine, []Reservation, decimal.Decimal, error) {
	ids := make([]int64, 0, len(reqLines))
	for _, l := range reqLines {
		ids = append(ids, l.ProductID)
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, decimal.Zero, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	lines := make([]models.SaleLine, 0, len(reqLines))
	reservations := make([]Reservation, 0, len(reqLines))
	subtotal := decimal.Zero

	for i, l := range reqLines {
		product, ok := byID[l.ProductID]
		if !ok {
			return nil, nil, decimal.Zero, &ProductNotFoundError{ProductID: l.ProductID}
		}
		if !product.Active {
			return nil, nil, decimal.Zero, &ProductInactiveError{ProductID: product.ID, Name: product.Name}
		}
		if err := validateLine(i+1, l); err != nil {
			return nil, nil, decimal.Zero, err
		}

		lineTotal := LineTotal(l.Quantity, l.UnitPrice, l.Discount)
		subtotal = subtotal.Add(lineTotal)

		lines = append(lines, models.SaleLine{
			LineNo:      i + 1,
			ProductID:   product.ID,
			ProductName: product.Name,
			ProductCode: product.Code,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    l.Discount,
			LineTotal:   lineTotal,
		})
		reservations = append(reservations, Reservation{ProductID: product.ID, Quantity: l.Quantity})
	}

	return lines, reservations, subtotal, nil
}

func validateLine(n int, l SaleLineRequest) error {
	switch {
	case l.Quantity <= 0:
		return &InvalidLineError{Line: n, Reason: "quantity must be greater than zero"}
	case !l.UnitPrice.IsPositive():
		return &InvalidLineError{Line: n, Reason: "unit price must be greater than zero"}
	case !isCents(l.UnitPrice):
		return &InvalidLineError{Line: n, Reason: "unit price cannot have more than two decimals"}
	case l.Discount.IsNegative():
		return &InvalidLineError{Line: n, Reason: "discount cannot be negative"}
	case !isCents(l.Discount):
		return &InvalidLineError{Line: n, Reason: "discount cannot have more than two decimals"}
	case l.Discount.GreaterThan(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))):
		return &InvalidLineError{Line: n, Reason: "discount exceeds line amount"}
	}
	return nil
}

// isCents reports whether d has at most two significant decimals. Amounts are
// stored with four, so line and tax arithmetic on such inputs is exact.
func isCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// LineTotal computes quantity × unit price − discount
func LineTotal(quantity int, unitPrice, discount decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Sub(discount)
}

func (s *SaleService) resolveUserName(ctx context.Context, userID int64) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	if user.FullName != "" {
		return user.FullName, nil
	}
	return user.Username, nil
}

func (s *SaleService) resolveClient(ctx context.Context, clientID *int64) (*models.Client, error) {
	if clientID == nil {
		return nil, nil
	}
	client, err := s.store.GetClientByID(ctx, *clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return client, nil
}

// lockIdempotencyKey takes the short-lived lock for key. A lock backend
// failure is logged and tolerated: the unique index on idempotency_key still
// prevents a second sale.
func (s *SaleService) lockIdempotencyKey(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	lockKey := "sale:" + key
	ok, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		s.logger.Warn("Idempotency lock unavailable", zap.String("key", key), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, ErrRequestInProgress
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.locker.ReleaseLock(ctx, lockKey); err != nil {
			s.logger.Warn("Failed to release idempotency lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func replayResponse(sale *models.Sale) *CreateSaleResponse {
	return &CreateSaleResponse{
		SaleID:        sale.ID,
		InvoiceNumber: sale.InvoiceNumber,
		Total:         sale.Total,
		Status:        sale.Status,
		Replayed:      true,
	}
}

// DeleteSale removes a cancelled or voided sale and restores its stock in one
// unit of work
func (s *SaleService) DeleteSale(ctx context.Context, saleID int64) error {
	ctx, span := util.StartSpan(ctx, "SaleService.DeleteSale")
	defer span.End()

	var (
		sale  *models.Sale
		lines []models.SaleLine
	)
	err := s.store.RunAtomic(ctx, func(tx *store.Store) error {
		var err error
		sale, err = lockSale(ctx, tx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusCancelled && sale.Status != models.SaleStatusVoided {
			return &InvalidSaleStateError{SaleID: sale.ID, Status: sale.Status, Operation: "delete"}
		}

		lines, err = tx.GetSaleLines(ctx, sale.ID)
		if err != nil {
			return fmt.Errorf("failed to get sale lines: %w", err)
		}
		for _, line := range lines {
			if err := s.ledger.Restore(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		return tx.DeleteSale(ctx, sale.ID)
	})
	if err != nil {
		return err
	}

	util.SalesDeletedTotal.Inc()
	s.logger.Info("Sale deleted and stock restored",
		zap.Int64("sale_id", sale.ID),
		zap.String("invoice_number", sale.InvoiceNumber),
		zap.Int("lines", len(lines)))

	event := &models.SaleDeletedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeSaleDeleted),
		SaleID:        sale.ID,
		InvoiceNumber: sale.InvoiceNumber,
		Lines:         lineData(lines),
	}
	if err := s.publisher.PublishSaleDeleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleDeleted event", zap.Error(err))
	}
	return nil
}

// UpdateSale changes the status and/or notes of a sale. Totals and stock are
// never touched. Completed sales may become Cancelled or Voided; no other
// status change is allowed.
func (s *SaleService) UpdateSale(ctx context.Context, saleID int64, req *UpdateSaleRequest) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.UpdateSale")
	defer span.End()

	var (
		sale      *models.Sale
		oldStatus string
	)
	err := s.store.RunAtomic(ctx, func(tx *store.Store) error {
		var err error
		sale, err = lockSale(ctx, tx, saleID)
		if err != nil {
			return err
		}
		oldStatus = sale.Status

		if req.Status != nil && *req.Status != sale.Status {
			next := *req.Status
			if !canTransition(sale.Status, next) {
				return &InvalidSaleStateError{
					SaleID:    sale.ID,
					Status:    sale.Status,
					Operation: "set status " + next + " on",
				}
			}
			sale.Status = next
		}
		if req.Notes != nil {
			sale.Notes = strings.TrimSpace(*req.Notes)
		}

		sale.UpdatedAt = s.now().UTC()
		return tx.UpdateSaleStatusNotes(ctx, sale.ID, sale.Status, sale.Notes, sale.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}

	if sale.Status != oldStatus {
		util.SaleStatusChangesTotal.WithLabelValues(sale.Status).Inc()
		event := &models.SaleStatusChangedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeSaleStatusChanged),
			SaleID:        sale.ID,
			InvoiceNumber: sale.InvoiceNumber,
			OldStatus:     oldStatus,
			NewStatus:     sale.Status,
		}
		if err := s.publisher.PublishSaleStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish SaleStatusChanged event", zap.Error(err))
		}
	}

	return sale, nil
}

func canTransition(from, to string) bool {
	if !models.IsValidSaleStatus(to) {
		return false
	}
	return from == models.SaleStatusCompleted &&
		(to == models.SaleStatusCancelled || to == models.SaleStatusVoided)
}

func lockSale(ctx context.Context, tx *store.Store, saleID int64) (*models.Sale, error) {
	sale, err := tx.GetSaleForUpdate(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrSaleNotFound, saleID)
	}
	return sale, err
}

// GetSale retrieves a sale with its lines
func (s *SaleService) GetSale(ctx context.Context, saleID int64) (*models.Sale, error) {
	sale, err := s.store.GetSaleByID(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrSaleNotFound, saleID)
	}
	if err != nil {
		return nil, err
	}

	sale.Lines, err = s.store.GetSaleLines(ctx, saleID)
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// ListSales retrieves sale headers matching the filter
func (s *SaleService) ListSales(ctx context.Context, filter store.SaleFilter) ([]models.Sale, error) {
	return s.store.ListSales(ctx, filter)
}

func (s *SaleService) publishSaleCreated(ctx context.Context, sale *models.Sale) {
	event := &models.SaleCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeSaleCreated),
		SaleID:        sale.ID,
		InvoiceNumber: sale.InvoiceNumber,
		UserID:        sale.UserID,
		Total:         sale.Total,
		Lines:         lineData(sale.Lines),
	}
	if err := s.publisher.PublishSaleCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleCreated event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func lineData(lines []models.SaleLine) []models.SaleLineData {
	out := make([]models.SaleLineData, 0, len(lines))
	for _, l := range lines {
		out = append(out, models.SaleLineData{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return out
}
