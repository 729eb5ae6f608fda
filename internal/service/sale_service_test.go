package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pos-service/internal/models"
	"pos-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type saleFixture struct {
	store     *store.Store
	service   *SaleService
	publisher *recordingPublisher
	locker    *memLocker
	cashier   *models.User
}

func newSaleFixture(t *testing.T) *saleFixture {
	t.Helper()
	s := newTestStore(t)
	pub := &recordingPublisher{}
	locker := newMemLocker()
	svc := NewSaleService(s, NewInvoiceSequence(s, "FAC", 5), NewStockLedger(), pub, locker, SaleOptions{
		TaxRate: dec("0.12"),
	})
	return &saleFixture{
		store:     s,
		service:   svc,
		publisher: pub,
		locker:    locker,
		cashier:   seedUser(t, s, "cashier@shop.test", models.RoleCashier),
	}
}

func (f *saleFixture) sell(t *testing.T, lines ...SaleLineRequest) (*CreateSaleResponse, error) {
	t.Helper()
	return f.service.CreateSale(context.Background(), &CreateSaleRequest{
		UserID: f.cashier.ID,
		Lines:  lines,
	})
}

func line(p *models.Product, qty int) SaleLineRequest {
	return SaleLineRequest{ProductID: p.ID, Quantity: qty, UnitPrice: p.SalePrice}
}

func TestCreateSale_ComputesTotalsAndDecrementsStock(t *testing.T) {
	f := newSaleFixture(t)
	ctx := context.Background()
	a := seedProduct(t, f.store, "A", "10.00", 10)
	b := seedProduct(t, f.store, "B", "5.50", 3)

	withDiscount := line(a, 2)
	withDiscount.Discount = dec("1.00")

	resp, err := f.sell(t, withDiscount, line(b, 1))
	require.NoError(t, err)
	assert.Equal(t, "FAC-00001", resp.InvoiceNumber)
	assert.Equal(t, models.SaleStatusCompleted, resp.Status)
	assert.True(t, resp.Total.Equal(dec("27.44")), "got %s", resp.Total)

	sale, err := f.service.GetSale(ctx, resp.SaleID)
	require.NoError(t, err)
	assert.True(t, sale.Subtotal.Equal(dec("24.50")))
	assert.True(t, sale.TaxAmount.Equal(dec("2.94")))
	assert.True(t, sale.Total.Equal(sale.Subtotal.Add(sale.TaxAmount)))
	assert.Equal(t, "User cashier@shop.test", sale.UserName)
	require.Len(t, sale.Lines, 2)
	assert.Equal(t, 1, sale.Lines[0].LineNo)
	assert.True(t, sale.Lines[0].LineTotal.Equal(dec("19.00")))
	assert.Equal(t, "A", sale.Lines[0].ProductCode)

	assert.Equal(t, 8, stockOf(t, f.store, a.ID))
	assert.Equal(t, 2, stockOf(t, f.store, b.ID))

	require.Len(t, f.publisher.created, 1)
	assert.Equal(t, resp.InvoiceNumber, f.publisher.created[0].InvoiceNumber)
	assert.NotEmpty(t, f.publisher.created[0].EventID)
}

func TestCreateSale_SequentialInvoiceNumbers(t *testing.T) {
	f := newSaleFixture(t)
	p := seedProduct(t, f.store, "A", "1.00", 100)

	for _, want := range []string{"FAC-00001", "FAC-00002", "FAC-00003"} {
		resp, err := f.sell(t, line(p, 1))
		require.NoError(t, err)
		assert.Equal(t, want, resp.InvoiceNumber)
	}
}

func TestCreateSale_EmptyOrder(t *testing.T) {
	f := newSaleFixture(t)

	_, err := f.sell(t)
	assert.ErrorIs(t, err, ErrEmptyOrder)

	current, err := f.store.CurrentSequenceValue(context.Background(), "FAC")
	require.NoError(t, err)
	assert.Zero(t, current, "an empty order must not consume an invoice number")
}

func TestCreateSale_UnknownProductLeavesNoTrace(t *testing.T) {
	f := newSaleFixture(t)
	a := seedProduct(t, f.store, "A", "2.00", 5)

	_, err := f.sell(t, line(a, 2), SaleLineRequest{ProductID: 999, Quantity: 1, UnitPrice: dec("1")})
	var notFound *ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(999), notFound.ProductID)

	assert.Equal(t, 5, stockOf(t, f.store, a.ID))
	sales, err := f.store.ListSales(context.Background(), store.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Empty(t, f.publisher.created)
}

func TestCreateSale_InsufficientStockRollsBackEverything(t *testing.T) {
	f := newSaleFixture(t)
	ctx := context.Background()
	a := seedProduct(t, f.store, "A", "2.00", 5)
	b := seedProduct(t, f.store, "B", "3.00", 1)

	_, err := f.sell(t, line(a, 2), line(b, 2))
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, b.ID, stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Requested)

	assert.Equal(t, 5, stockOf(t, f.store, a.ID), "first line's decrement must be rolled back")
	assert.Equal(t, 1, stockOf(t, f.store, b.ID))

	sales, err := f.store.ListSales(ctx, store.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)

	// The failed sale consumed FAC-00001; numbers are never reused.
	resp, err := f.sell(t, line(a, 1))
	require.NoError(t, err)
	assert.Equal(t, "FAC-00002", resp.InvoiceNumber)
}

func TestCreateSale_RepeatedProductLinesAreSummed(t *testing.T) {
	f := newSaleFixture(t)
	a := seedProduct(t, f.store, "A", "2.00", 5)

	_, err := f.sell(t, line(a, 3), line(a, 3))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 5, stockOf(t, f.store, a.ID))

	_, err = f.sell(t, line(a, 2), line(a, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, f.store, a.ID))
}

func TestCreateSale_InactiveProduct(t *testing.T) {
	f := newSaleFixture(t)
	a := seedProduct(t, f.store, "A", "2.00", 5)
	require.NoError(t, f.store.DeactivateProduct(context.Background(), a.ID))

	_, err := f.sell(t, line(a, 1))
	assert.ErrorIs(t, err, ErrProductInactive)
	assert.Equal(t, 5, stockOf(t, f.store, a.ID))
}

func TestCreateSale_InvalidLines(t *testing.T) {
	f := newSaleFixture(t)
	a := seedProduct(t, f.store, "A", "2.00", 5)

	cases := map[string]SaleLineRequest{
		"zero quantity":     {ProductID: a.ID, Quantity: 0, UnitPrice: dec("2")},
		"negative quantity": {ProductID: a.ID, Quantity: -1, UnitPrice: dec("2")},
		"zero price":        {ProductID: a.ID, Quantity: 1, UnitPrice: dec("0")},
		"negative discount": {ProductID: a.ID, Quantity: 1, UnitPrice: dec("2"), Discount: dec("-1")},
		"discount too big":  {ProductID: a.ID, Quantity: 2, UnitPrice: dec("2"), Discount: dec("4.01")},
		"sub-cent price":    {ProductID: a.ID, Quantity: 3, UnitPrice: dec("0.33333")},
		"sub-cent discount": {ProductID: a.ID, Quantity: 1, UnitPrice: dec("2"), Discount: dec("0.005")},
	}
	for name, l := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.sell(t, line(a, 1), l)
			var lineErr *InvalidLineError
			require.ErrorAs(t, err, &lineErr)
			assert.Equal(t, 2, lineErr.Line)
		})
	}
	assert.Equal(t, 5, stockOf(t, f.store, a.ID))
}

func TestCreateSale_StoredLinesMatchTheirTotals(t *testing.T) {
	f := newSaleFixture(t)
	a := seedProduct(t, f.store, "A", "0.33", 10)

	l := SaleLineRequest{ProductID: a.ID, Quantity: 3, UnitPrice: dec("0.3300"), Discount: dec("0.10")}
	resp, err := f.sell(t, l)
	require.NoError(t, err)

	sale, err := f.service.GetSale(context.Background(), resp.SaleID)
	require.NoError(t, err)
	require.Len(t, sale.Lines, 1)
	stored := sale.Lines[0]
	assert.True(t, stored.LineTotal.Equal(LineTotal(stored.Quantity, stored.UnitPrice, stored.Discount)))
	assert.True(t, sale.Subtotal.Equal(dec("0.89")))
	assert.True(t, sale.TaxAmount.Equal(sale.Subtotal.Mul(sale.TaxRate)))
	assert.True(t, sale.Total.Equal(sale.Subtotal.Add(sale.TaxAmount)))
}

func TestCreateSale_ConcurrentSalesNeverOversell(t *testing.T) {
	f := newSaleFixture(t)
	p := seedProduct(t, f.store, "A", "1.00", 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      []*CreateSaleResponse
		refused []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.sell(t, line(p, 6))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				refused = append(refused, err)
				return
			}
			ok = append(ok, resp)
		}()
	}
	wg.Wait()

	assert.Len(t, ok, 1)
	require.Len(t, refused, 1)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, refused[0], &stockErr)
	assert.Equal(t, 4, stockErr.Available)
	assert.Equal(t, 6, stockErr.Requested)
	assert.Equal(t, 4, stockOf(t, f.store, p.ID))
}

func TestCreateSale_ConcurrentInvoiceNumbersAreDistinct(t *testing.T) {
	f := newSaleFixture(t)
	p := seedProduct(t, f.store, "A", "1.00", 15)

	const buyers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]bool)
		failed  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.sell(t, line(p, 1))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientStock)
				failed++
				return
			}
			assert.False(t, numbers[resp.InvoiceNumber], "invoice %s issued twice", resp.InvoiceNumber)
			numbers[resp.InvoiceNumber] = true
		}()
	}
	wg.Wait()

	assert.Len(t, numbers, 15)
	assert.Equal(t, 5, failed)
	assert.Equal(t, 0, stockOf(t, f.store, p.ID))
}

func TestCreateSale_IdempotentReplay(t *testing.T) {
	f := newSaleFixture(t)
	ctx := context.Background()
	p := seedProduct(t, f.store, "A", "1.00", 10)

	req := &CreateSaleRequest{UserID: f.cashier.ID, Lines: []SaleLineRequest{line(p, 2)}, IdempotencyKey: "till-1-0001"}

	first, err := f.service.CreateSale(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.service.CreateSale(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.SaleID, second.SaleID)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)

	assert.Equal(t, 8, stockOf(t, f.store, p.ID))
	assert.Empty(t, f.locker.held, "lock must be released")
}

func TestCreateSale_IdempotencyKeyInProgress(t *testing.T) {
	f := newSaleFixture(t)
	p := seedProduct(t, f.store, "A", "1.00", 10)

	_, err := f.locker.AcquireLock(context.Background(), "sale:busy", 0)
	require.NoError(t, err)

	_, err = f.service.CreateSale(context.Background(), &CreateSaleRequest{
		UserID:         f.cashier.ID,
		Lines:          []SaleLineRequest{line(p, 1)},
		IdempotencyKey: "busy",
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)
	assert.Equal(t, 10, stockOf(t, f.store, p.ID))
}

func TestCreateSale_LockBackendDownStillCreates(t *testing.T) {
	f := newSaleFixture(t)
	f.locker.fails = true
	p := seedProduct(t, f.store, "A", "1.00", 10)

	resp, err := f.service.CreateSale(context.Background(), &CreateSaleRequest{
		UserID:         f.cashier.ID,
		Lines:          []SaleLineRequest{line(p, 1)},
		IdempotencyKey: "k",
	})
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
}

func TestCreateSale_WithClient(t *testing.T) {
	f := newSaleFixture(t)
	ctx := context.Background()
	p := seedProduct(t, f.store, "A", "1.00", 10)
	client := &models.Client{Name: "ACME", Document: "0991234567001", Active: true}
	require.NoError(t, f.store.CreateClient(ctx, client))

	resp, err := f.service.CreateSale(ctx, &CreateSaleRequest{
		UserID:   f.cashier.ID,
		ClientID: &client.ID,
		Lines:    []SaleLineRequest{line(p, 1)},
	})
	require.NoError(t, err)

	sale, err := f.service.GetSale(ctx, resp.SaleID)
	require.NoError(t, err)
	assert.Equal(t, "ACME", sale.ClientName)
	assert.Equal(t, "0991234567001", sale.ClientDocument)
	assert.True(t, sale.ClientID.Valid)
}

func TestDeleteSale_RequiresCancelledOrVoided(t *testing.T) {
	f := newSaleFixture(t)
	ctx := context.Background()
	p := seedProduct(t, f.store, "A", "1.00", 10)

	resp, err := f.sell(t, line(p, 4))
	require.NoError(t, err)

	err = f.service.DeleteSale(ctx, resp.SaleID)
	var stateErr *InvalidSaleStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.SaleStatusCompleted, stateErr.Status)
	assert.Equal(t, 6, stockOf(t, f.store, p.ID))

	err = f.service.DeleteSale(ctx, 424242)
	assert.ErrorIs(t, err, ErrSaleNotFound)
}

func TestDeleteSale_RestoresStock(t *testing.T) {
	for _, status := range []string{models.SaleStatusCancelled, models.SaleStatusVoided} {
		t.Run(status, func(t *testing.T) {
			f := newSaleFixture(t)
			ctx := context.Background()
			a := seedProduct(t, f.store, "A", "1.00", 10)
			b := seedProduct(t, f.store, "B", "2.00", 3)

			resp, err := f.sell(t, line(a, 4), line(b, 3))
			require.NoError(t, err)

			st := status
			_, err = f.service.UpdateSale(ctx, resp.SaleID, &UpdateSaleRequest{Status: &st})
			require.NoError(t, err)
			assert.Equal(t, 6, stockOf(t, f.store, a.ID), "cancelling alone does not restore stock")

			require.NoError(t, f.service.DeleteSale(ctx, resp.SaleID))
			assert.Equal(t, 10, stockOf(t, f.store, a.ID))
			assert.Equal(t, 3, stockOf(t, f.store, b.ID))

			_, err = f.service.GetSale(ctx, resp.SaleID)
			assert.ErrorIs(t, err, ErrSaleNotFound)
			lines, err := f.store.GetSaleLines(ctx, resp.SaleID)
			require.NoError(t, err)
			assert.Empty(t, lines)

			require.Len(t, f.publisher.deleted, 1)
			assert.Len(t, f.publisher.deleted[0].Lines, 2)
		})
	}
}

func TestUpdateSale_Transitions(t *testing.T) {
	f := newSaleFixture(t)
	ctx := context.Background()
	p := seedProduct(t, f.store, "A", "1.00", 10)

	resp, err := f.sell(t, line(p, 1))
	require.NoError(t, err)

	notes := "  customer returned goods "
	completed := models.SaleStatusCompleted
	sale, err := f.service.UpdateSale(ctx, resp.SaleID, &UpdateSaleRequest{Status: &completed, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusCompleted, sale.Status)
	assert.Equal(t, "customer returned goods", sale.Notes)
	assert.Empty(t, f.publisher.statusChanged)

	bogus := "Refunded"
	_, err = f.service.UpdateSale(ctx, resp.SaleID, &UpdateSaleRequest{Status: &bogus})
	assert.ErrorIs(t, err, ErrInvalidSaleState)

	voided := models.SaleStatusVoided
	sale, err = f.service.UpdateSale(ctx, resp.SaleID, &UpdateSaleRequest{Status: &voided})
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusVoided, sale.Status)
	assert.True(t, sale.Total.Equal(dec("1.12")), "totals are never touched")
	require.Len(t, f.publisher.statusChanged, 1)
	assert.Equal(t, models.SaleStatusCompleted, f.publisher.statusChanged[0].OldStatus)

	_, err = f.service.UpdateSale(ctx, resp.SaleID, &UpdateSaleRequest{Status: &completed})
	assert.ErrorIs(t, err, ErrInvalidSaleState, "voided sales cannot be reopened")

	_, err = f.service.UpdateSale(ctx, 999, &UpdateSaleRequest{Notes: &notes})
	assert.ErrorIs(t, err, ErrSaleNotFound)
}

func TestListSales_DelegatesFilter(t *testing.T) {
	f := newSaleFixture(t)
	p := seedProduct(t, f.store, "A", "1.00", 10)
	for i := 0; i < 3; i++ {
		_, err := f.sell(t, line(p, 1))
		require.NoError(t, err)
	}

	sales, err := f.service.ListSales(context.Background(), store.SaleFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "FAC-00003", sales[0].InvoiceNumber)
}

func TestLineTotal(t *testing.T) {
	assert.True(t, LineTotal(3, dec("2.50"), dec("0.50")).Equal(dec("7.00")))
	assert.True(t, LineTotal(1, dec("9.99"), dec("0")).Equal(dec("9.99")))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(models.SaleStatusCompleted, models.SaleStatusCancelled))
	assert.True(t, canTransition(models.SaleStatusCompleted, models.SaleStatusVoided))
	assert.False(t, canTransition(models.SaleStatusCancelled, models.SaleStatusCompleted))
	assert.False(t, canTransition(models.SaleStatusCancelled, models.SaleStatusVoided))
	assert.False(t, canTransition(models.SaleStatusCompleted, "Pending"))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "insufficient_stock", ErrorKind(&InsufficientStockError{ProductID: 1}))
	assert.Equal(t, "invalid_line", ErrorKind(&InvalidLineError{Line: 1}))
	assert.Equal(t, "account_locked", ErrorKind(&AccountLockedError{Account: "a"}))
	assert.Equal(t, "user_not_found", ErrorKind(ErrUserNotFound))
	assert.Equal(t, "duplicate_user", ErrorKind(ErrDuplicateUser))
	assert.Equal(t, "already_initialized", ErrorKind(ErrAlreadyInitialized))
	assert.Equal(t, "last_admin", ErrorKind(ErrLastAdmin))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
}
