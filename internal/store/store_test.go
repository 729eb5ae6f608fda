package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pos-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(DriverSQLite, filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProduct(t *testing.T, s *Store, code string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:      "Product " + code,
		Code:      code,
		CostPrice: decimal.RequireFromString("1.50"),
		SalePrice: decimal.RequireFromString("2.75"),
		Stock:     stock,
		MinStock:  2,
		Active:    true,
	}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func TestCreateAndGetProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProduct(t, s, "P-001", 10)
	assert.NotZero(t, p.ID)

	got, err := s.GetProductByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "P-001", got.Code)
	assert.True(t, got.SalePrice.Equal(decimal.RequireFromString("2.75")))
	assert.Equal(t, 10, got.Stock)
	assert.True(t, got.Active)

	_, err = s.GetProductByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	dup := &models.Product{Name: "dup", Code: "P-001", Active: true}
	assert.ErrorIs(t, s.CreateProduct(ctx, dup), ErrDuplicate)
}

func TestDecrementStock_Conditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "P-001", 5)

	ok, err := s.DecrementStock(ctx, p.ID, 3, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DecrementStock(ctx, p.ID, 3, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "only 2 left, decrement of 3 must not apply")

	got, err := s.GetProductByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)

	require.NoError(t, s.DeactivateProduct(ctx, p.ID))
	ok, err = s.DecrementStock(ctx, p.ID, 1, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "inactive products cannot be decremented")

	require.NoError(t, s.IncrementStock(ctx, p.ID, 4, time.Now()))
	got, err = s.GetProductByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Stock)
}

func TestRunAtomic_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProduct(t, s, "P-001", 10)

	boom := errors.New("boom")
	err := s.RunAtomic(ctx, func(tx *Store) error {
		assert.True(t, tx.InTx())
		ok, err := tx.DecrementStock(ctx, p.ID, 4, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetProductByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Stock, "decrement must be rolled back")
}

func TestNextSequenceValue_ConcurrentUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.NextSequenceValue(ctx, "FAC")
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[v], "value %d issued twice", v)
			seen[v] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	current, err := s.CurrentSequenceValue(ctx, "FAC")
	require.NoError(t, err)
	assert.Equal(t, int64(n), current)
}

func TestRaiseSequence_NeverLowers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RaiseSequence(ctx, "FAC", 41))
	v, err := s.NextSequenceValue(ctx, "FAC")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	require.NoError(t, s.RaiseSequence(ctx, "FAC", 7))
	current, err := s.CurrentSequenceValue(ctx, "FAC")
	require.NoError(t, err)
	assert.Equal(t, int64(42), current)
}

func TestIncrementLoginFailure_LocksAtThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		res, err := s.IncrementLoginFailure(ctx, "ana@shop.test", "10.0.0.1", "curl", 3, now, sql.NullTime{})
		require.NoError(t, err)
		assert.Equal(t, i, res.FailedCount)
		assert.False(t, res.Locked)
	}

	res, err := s.IncrementLoginFailure(ctx, "ana@shop.test", "10.0.0.2", "firefox", 3, now.Add(time.Minute), sql.NullTime{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.FailedCount)
	assert.True(t, res.Locked)

	rec, err := s.GetLoginAttempt(ctx, "ana@shop.test")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Locked)
	assert.True(t, rec.LockedAt.Valid)
	assert.Equal(t, "10.0.0.2", rec.LastIP)
	assert.Equal(t, "firefox", rec.LastUserAgent)

	require.NoError(t, s.ResetLoginAttempts(ctx, "ana@shop.test", now))
	rec, err = s.GetLoginAttempt(ctx, "ana@shop.test")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.FailedCount)
	assert.False(t, rec.Locked)
	assert.False(t, rec.LockedAt.Valid)

	missing, err := s.GetLoginAttempt(ctx, "nobody@shop.test")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIncrementLoginFailure_ExpiredLockRestartsCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lockedAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.IncrementLoginFailure(ctx, "bob", "", "", 3, lockedAt, sql.NullTime{})
		require.NoError(t, err)
	}

	// Still inside the lockout window: the count keeps climbing.
	res, err := s.IncrementLoginFailure(ctx, "bob", "", "", 3, lockedAt.Add(time.Minute),
		sql.NullTime{Time: lockedAt.Add(-time.Minute), Valid: true})
	require.NoError(t, err)
	assert.Equal(t, 4, res.FailedCount)
	assert.True(t, res.Locked)

	res, err = s.IncrementLoginFailure(ctx, "bob", "", "", 3, lockedAt.Add(20*time.Minute),
		sql.NullTime{Time: lockedAt.Add(5 * time.Minute), Valid: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedCount)
	assert.False(t, res.Locked)

	rec, err := s.GetLoginAttempt(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, rec.LockedAt.Valid)
}

func TestClearLoginFailures_KeepsLiveLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	cleared, err := s.ClearLoginFailures(ctx, "nobody", now, sql.NullTime{})
	require.NoError(t, err)
	assert.True(t, cleared, "no record means nothing to keep locked")

	_, err = s.IncrementLoginFailure(ctx, "carla", "", "", 3, now, sql.NullTime{})
	require.NoError(t, err)
	cleared, err = s.ClearLoginFailures(ctx, "carla", now, sql.NullTime{})
	require.NoError(t, err)
	assert.True(t, cleared)

	for i := 0; i < 3; i++ {
		_, err = s.IncrementLoginFailure(ctx, "carla", "", "", 3, now, sql.NullTime{})
		require.NoError(t, err)
	}
	cleared, err = s.ClearLoginFailures(ctx, "carla", now.Add(time.Minute), sql.NullTime{})
	require.NoError(t, err)
	assert.False(t, cleared)
	rec, err := s.GetLoginAttempt(ctx, "carla")
	require.NoError(t, err)
	assert.True(t, rec.Locked)
	assert.Equal(t, 3, rec.FailedCount)

	cleared, err = s.ClearLoginFailures(ctx, "carla", now.Add(time.Hour),
		sql.NullTime{Time: now.Add(30 * time.Minute), Valid: true})
	require.NoError(t, err)
	assert.True(t, cleared, "an expired lock no longer holds")
	rec, err = s.GetLoginAttempt(ctx, "carla")
	require.NoError(t, err)
	assert.False(t, rec.Locked)
	assert.Zero(t, rec.FailedCount)
}

func TestListLoginAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := s.IncrementLoginFailure(ctx, "ana", "", "", 3, now, sql.NullTime{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.IncrementLoginFailure(ctx, "bob", "", "", 3, now.Add(time.Minute), sql.NullTime{})
		require.NoError(t, err)
	}
	_, err = s.IncrementLoginFailure(ctx, "carla", "", "", 3, now, sql.NullTime{})
	require.NoError(t, err)
	require.NoError(t, s.ResetLoginAttempts(ctx, "carla", now))

	all, err := s.ListLoginAttempts(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bob", all[0].Account)
	assert.Equal(t, "ana", all[1].Account)

	locked, err := s.ListLoginAttempts(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.Equal(t, "bob", locked[0].Account)
}

func newSale(number string) *models.Sale {
	now := time.Now().UTC()
	return &models.Sale{
		InvoiceNumber: number,
		SoldAt:        now,
		UserID:        1,
		Subtotal:      decimal.RequireFromString("10"),
		TaxRate:       decimal.RequireFromString("0.12"),
		TaxAmount:     decimal.RequireFromString("1.2"),
		Total:         decimal.RequireFromString("11.2"),
		Status:        models.SaleStatusCompleted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestInsertSale_UniqueConstraints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newSale("FAC-00001")
	first.IdempotencyKey = sql.NullString{String: "key-1", Valid: true}
	require.NoError(t, s.InsertSale(ctx, first))

	err := s.InsertSale(ctx, newSale("FAC-00001"))
	assert.ErrorIs(t, err, ErrDuplicateInvoiceNumber)

	second := newSale("FAC-00002")
	second.IdempotencyKey = sql.NullString{String: "key-1", Valid: true}
	assert.ErrorIs(t, s.InsertSale(ctx, second), ErrDuplicateIdempotencyKey)

	found, err := s.GetSaleByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
	assert.True(t, found.Total.Equal(decimal.RequireFromString("11.2")))
}

func TestLastIssuedInvoiceNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastIssuedInvoiceNumber(ctx, "FAC")
	require.NoError(t, err)
	assert.Empty(t, last)

	for _, n := range []string{"FAC-00009", "FAC-100000", "FAC-00010", "OTHER-99999"} {
		require.NoError(t, s.InsertSale(ctx, newSale(n)))
	}

	last, err = s.LastIssuedInvoiceNumber(ctx, "FAC")
	require.NoError(t, err)
	assert.Equal(t, "FAC-100000", last)
}

func TestListSales_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newSale("FAC-00001")
	b := newSale("FAC-00002")
	b.UserID = 2
	b.Status = models.SaleStatusCancelled
	require.NoError(t, s.InsertSale(ctx, a))
	require.NoError(t, s.InsertSale(ctx, b))

	all, err := s.ListSales(ctx, SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byUser, err := s.ListSales(ctx, SaleFilter{UserID: 2})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "FAC-00002", byUser[0].InvoiceNumber)

	byStatus, err := s.ListSales(ctx, SaleFilter{Status: models.SaleStatusCompleted})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "FAC-00001", byStatus[0].InvoiceNumber)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("POS_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("Integration test - requires POS_TEST_POSTGRES_URL")
	}

	s, err := NewStore(DriverPostgres, url)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	code := "PG-" + time.Now().Format("150405.000000")
	p := &models.Product{Name: "pg", Code: code, Stock: 3, Active: true}
	require.NoError(t, s.CreateProduct(ctx, p))

	ok, err := s.DecrementStock(ctx, p.ID, 4, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessedEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done, err := s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypeSaleCreated))
	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypeSaleCreated))

	done, err = s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, done)
}
