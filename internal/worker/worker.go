package worker

import (
	"context"
	"fmt"
	"time"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const lowStockAlertTTL = time.Hour

// AlertMarker deduplicates low-stock alerts. redisclient.Client is the
// production implementation.
type AlertMarker interface {
	MarkLowStock(ctx context.Context, productID int64, ttl time.Duration) (bool, error)
}

// StockAlertWorker watches committed sales and raises an alert for every
// product left at or below its minimum stock
type StockAlertWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	marker       AlertMarker
	logger       *zap.Logger
}

// NewStockAlertWorker creates a new stock alert worker. consumer and marker
// may be nil.
func NewStockAlertWorker(consumer *broker.Consumer, store *store.Store, marker AlertMarker) *StockAlertWorker {
	w := &StockAlertWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		marker:       marker,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnSaleCreated(w.HandleSaleCreated)
	w.eventHandler.OnAccountLocked(w.HandleAccountLocked)

	return w
}

// Start starts the worker
func (w *StockAlertWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock alert worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// HandleMessage routes one broker message
func (w *StockAlertWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// Stop stops the worker
func (w *StockAlertWorker) Stop() error {
	w.logger.Info("Stopping stock alert worker")
	return w.consumer.Close()
}

// HandleSaleCreated checks the stock of every product in the sale. Redelivered
// events are skipped.
func (w *StockAlertWorker) HandleSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	if event.EventID != "" {
		processed, err := w.store.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event processed: %w", err)
		}
		if processed {
			w.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}
	}

	if err := w.checkStock(ctx, event); err != nil {
		return err
	}

	if event.EventID != "" {
		if err := w.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			w.logger.Error("Failed to mark event processed", zap.Error(err))
		}
	}
	return nil
}

func (w *StockAlertWorker) checkStock(ctx context.Context, event *models.SaleCreatedEvent) error {
	ids := make([]int64, 0, len(event.Lines))
	for _, l := range event.Lines {
		ids = append(ids, l.ProductID)
	}
	if len(ids) == 0 {
		return nil
	}

	products, err := w.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return err
	}

	for _, p := range products {
		if !p.Active || !p.IsLowStock() {
			continue
		}
		if w.marker != nil {
			first, err := w.marker.MarkLowStock(ctx, p.ID, lowStockAlertTTL)
			if err != nil {
				w.logger.Warn("Low stock dedupe unavailable", zap.Error(err))
			} else if !first {
				continue
			}
		}

		util.LowStockAlertsTotal.Inc()
		w.logger.Warn("Product stock low",
			zap.Int64("product_id", p.ID),
			zap.String("code", p.Code),
			zap.Int("stock", p.Stock),
			zap.Int("min_stock", p.MinStock),
			zap.String("invoice_number", event.InvoiceNumber))
	}
	return nil
}

// HandleAccountLocked writes the lock to the audit log
func (w *StockAlertWorker) HandleAccountLocked(_ context.Context, event *models.AccountLockedEvent) error {
	w.logger.Warn("Account locked",
		zap.String("account", event.Account),
		zap.Int("failed_count", event.FailedCount),
		zap.String("ip", event.IPAddress),
		zap.Time("at", event.Timestamp))
	return nil
}
