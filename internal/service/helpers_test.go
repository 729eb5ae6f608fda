package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(store.DriverSQLite, filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProduct(t *testing.T, s *store.Store, code, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:      "Product " + code,
		Code:      code,
		CostPrice: decimal.RequireFromString(price).Div(decimal.NewFromInt(2)),
		SalePrice: decimal.RequireFromString(price),
		Stock:     stock,
		MinStock:  1,
		Active:    true,
	}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func seedUser(t *testing.T, s *store.Store, email, role string) *models.User {
	t.Helper()
	u := &models.User{
		Email:        email,
		Username:     email,
		FullName:     "User " + email,
		PasswordHash: "x",
		Role:         role,
		Active:       true,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func stockOf(t *testing.T, s *store.Store, productID int64) int {
	t.Helper()
	p, err := s.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type recordingPublisher struct {
	mu            sync.Mutex
	created       []*models.SaleCreatedEvent
	statusChanged []*models.SaleStatusChangedEvent
	deleted       []*models.SaleDeletedEvent
	locked        []*models.AccountLockedEvent
}

func (p *recordingPublisher) PublishSaleCreated(_ context.Context, e *models.SaleCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishSaleStatusChanged(_ context.Context, e *models.SaleStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, e)
	return nil
}

func (p *recordingPublisher) PublishSaleDeleted(_ context.Context, e *models.SaleDeletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, e)
	return nil
}

func (p *recordingPublisher) PublishAccountLocked(_ context.Context, e *models.AccountLockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = append(p.locked, e)
	return nil
}

type memLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	fails bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fails {
		return false, context.DeadlineExceeded
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
