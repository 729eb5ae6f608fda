package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"pos-service/internal/models"
	"pos-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSaleCreated publishes SaleCreated event
func (ep *EventPublisher) PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	return ep.publish(ctx, saleKey(event.SaleID), event.EventType, event)
}

// PublishSaleStatusChanged publishes SaleStatusChanged event
func (ep *EventPublisher) PublishSaleStatusChanged(ctx context.Context, event *models.SaleStatusChangedEvent) error {
	return ep.publish(ctx, saleKey(event.SaleID), event.EventType, event)
}

// PublishSaleDeleted publishes SaleDeleted event
func (ep *EventPublisher) PublishSaleDeleted(ctx context.Context, event *models.SaleDeletedEvent) error {
	return ep.publish(ctx, saleKey(event.SaleID), event.EventType, event)
}

// PublishAccountLocked publishes AccountLocked event
func (ep *EventPublisher) PublishAccountLocked(ctx context.Context, event *models.AccountLockedEvent) error {
	return ep.publish(ctx, "account-"+event.Account, event.EventType, event)
}

func (ep *EventPublisher) publish(ctx context.Context, key, eventType string, event interface{}) error {
	if err := ep.producer.PublishEvent(ctx, key, event); err != nil {
		return err
	}
	util.EventsPublishedTotal.WithLabelValues(eventType).Inc()
	return nil
}

func saleKey(saleID int64) string {
	return fmt.Sprintf("sale-%d", saleID)
}

// EventHandler handles incoming events
type EventHandler struct {
	onSaleCreated   func(context.Context, *models.SaleCreatedEvent) error
	onSaleDeleted   func(context.Context, *models.SaleDeletedEvent) error
	onAccountLocked func(context.Context, *models.AccountLockedEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnSaleCreated registers a handler for SaleCreated events
func (eh *EventHandler) OnSaleCreated(handler func(context.Context, *models.SaleCreatedEvent) error) {
	eh.onSaleCreated = handler
}

// OnSaleDeleted registers a handler for SaleDeleted events
func (eh *EventHandler) OnSaleDeleted(handler func(context.Context, *models.SaleDeletedEvent) error) {
	eh.onSaleDeleted = handler
}

// OnAccountLocked registers a handler for AccountLocked events
func (eh *EventHandler) OnAccountLocked(handler func(context.Context, *models.AccountLockedEvent) error) {
	eh.onAccountLocked = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeSaleCreated:
		if eh.onSaleCreated != nil {
			var event models.SaleCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleCreated event: %w", err)
			}
			return eh.onSaleCreated(ctx, &event)
		}

	case models.EventTypeSaleDeleted:
		if eh.onSaleDeleted != nil {
			var event models.SaleDeletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleDeleted event: %w", err)
			}
			return eh.onSaleDeleted(ctx, &event)
		}

	case models.EventTypeAccountLocked:
		if eh.onAccountLocked != nil {
			var event models.AccountLockedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AccountLocked event: %w", err)
			}
			return eh.onAccountLocked(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
