package service

import (
	"context"
	"time"

	"pos-service/internal/models"
)

// EventPublisher publishes domain events once the change they describe has
// committed. broker.EventPublisher is the production implementation.
type EventPublisher interface {
	PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error
	PublishSaleStatusChanged(ctx context.Context, event *models.SaleStatusChangedEvent) error
	PublishSaleDeleted(ctx context.Context, event *models.SaleDeletedEvent) error
	PublishAccountLocked(ctx context.Context, event *models.AccountLockedEvent) error
}

// IdempotencyLocker guards concurrent requests that share an idempotency key.
// redisclient.Client is the production implementation.
type IdempotencyLocker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

type nopPublisher struct{}

func (nopPublisher) PublishSaleCreated(context.Context, *models.SaleCreatedEvent) error { return nil }
func (nopPublisher) PublishSaleStatusChanged(context.Context, *models.SaleStatusChangedEvent) error {
	return nil
}
func (nopPublisher) PublishSaleDeleted(context.Context, *models.SaleDeletedEvent) error { return nil }
func (nopPublisher) PublishAccountLocked(context.Context, *models.AccountLockedEvent) error {
	return nil
}
