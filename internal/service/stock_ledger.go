package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

const maxReserveAttempts = 3

// Reservation is a request to take quantity of a product out of stock.
type Reservation struct {
	ProductID int64
	Quantity  int
}

// StockLedger enforces non-negative, race-free stock updates. Its methods
// take a transaction-bound store so reservations commit or roll back with
// the rest of the caller's unit of work.
type StockLedger struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewStockLedger creates a new stock ledger
func NewStockLedger() *StockLedger {
	return &StockLedger{
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Reserve decrements stock for one product with a single conditional update
// so concurrent reservations cannot drive stock negative.
func (l *StockLedger) Reserve(ctx context.Context, tx *store.Store, productID int64, quantity int) error {
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		ok, err := tx.DecrementStock(ctx, productID, quantity, l.now().UTC())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		// Nothing qualified; read the row to report why.
		product, err := tx.GetProductByID(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			util.StockReservationsFailed.WithLabelValues("product_not_found").Inc()
			return &ProductNotFoundError{ProductID: productID}
		}
		if err != nil {
			return err
		}
		if !product.Active {
			util.StockReservationsFailed.WithLabelValues("product_inactive").Inc()
			return &ProductInactiveError{ProductID: productID, Name: product.Name}
		}
		if product.Stock < quantity {
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return &InsufficientStockError{
				ProductID: productID,
				Name:      product.Name,
				Available: product.Stock,
				Requested: quantity,
			}
		}
		// Stock was replenished between the update and the read; try again.
	}
	return fmt.Errorf("failed to reserve product %d: stock kept changing", productID)
}

// ReserveAll reserves every requested quantity or returns the first failure.
// Quantities for the same product are summed and products are locked in
// ascending ID order, so two sales over the same products cannot deadlock.
func (l *StockLedger) ReserveAll(ctx context.Context, tx *store.Store, reservations []Reservation) error {
	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	for _, r := range aggregateReservations(reservations) {
		if err := l.Reserve(ctx, tx, r.ProductID, r.Quantity); err != nil {
			l.logger.Info("Stock reservation refused",
				zap.Int64("product_id", r.ProductID),
				zap.Int("quantity", r.Quantity),
				zap.Error(err))
			return err
		}
	}
	return nil
}

// Restore returns quantity to stock. Stock may always increase.
func (l *StockLedger) Restore(ctx context.Context, tx *store.Store, productID int64, quantity int) error {
	if err := tx.IncrementStock(ctx, productID, quantity, l.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ProductNotFoundError{ProductID: productID}
		}
		return fmt.Errorf("failed to restore stock for product %d: %w", productID, err)
	}
	return nil
}

// Adjust applies a manual correction to a product's stock. Positive deltas
// always apply; negative deltas apply only while stock stays non-negative.
// Unlike Reserve, inactive products can be adjusted.
func (l *StockLedger) Adjust(ctx context.Context, tx *store.Store, productID int64, delta int) error {
	switch {
	case delta > 0:
		if err := l.Restore(ctx, tx, productID, delta); err != nil {
			return err
		}
		util.StockAdjustmentsTotal.WithLabelValues("in").Inc()
	case delta < 0:
		ok, err := tx.WithdrawStock(ctx, productID, -delta, l.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			product, err := tx.GetProductByID(ctx, productID)
			if errors.Is(err, store.ErrNotFound) {
				return &ProductNotFoundError{ProductID: productID}
			}
			if err != nil {
				return err
			}
			return &InsufficientStockError{
				ProductID: productID,
				Name:      product.Name,
				Available: product.Stock,
				Requested: -delta,
			}
		}
		util.StockAdjustmentsTotal.WithLabelValues("out").Inc()
	default:
		return nil
	}

	l.logger.Info("Stock adjusted", zap.Int64("product_id", productID), zap.Int("delta", delta))
	return nil
}

func aggregateReservations(in []Reservation) []Reservation {
	totals := make(map[int64]int, len(in))
	for _, r := range in {
		totals[r.ProductID] += r.Quantity
	}

	out := make([]Reservation, 0, len(totals))
	for id, qty := range totals {
		out = append(out, Reservation{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
