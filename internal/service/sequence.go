package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// InvoiceSequence issues invoice numbers of the form PREFIX-NNNNN. The
// counter lives in the database and is advanced by one atomic statement, so
// concurrent callers never receive the same number. Issued numbers are never
// reused; a sale that fails after taking a number leaves a gap.
type InvoiceSequence struct {
	store    *store.Store
	prefix   string
	padWidth int
	logger   *zap.Logger
}

// NewInvoiceSequence creates a new invoice sequence
func NewInvoiceSequence(store *store.Store, prefix string, padWidth int) *InvoiceSequence {
	if prefix == "" {
		prefix = "FAC"
	}
	if padWidth <= 0 {
		padWidth = 5
	}
	return &InvoiceSequence{
		store:    store,
		prefix:   prefix,
		padWidth: padWidth,
		logger:   util.GetLogger(),
	}
}

// Next returns the next invoice number
func (q *InvoiceSequence) Next(ctx context.Context) (string, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceSequence.Next")
	defer span.End()

	n, err := q.store.NextSequenceValue(ctx, q.prefix)
	if err != nil {
		return "", err
	}
	return q.Format(n), nil
}

// Format renders n as an invoice number
func (q *InvoiceSequence) Format(n int64) string {
	return fmt.Sprintf("%s-%0*d", q.prefix, q.padWidth, n)
}

// Parse extracts the numeric suffix of an invoice number issued under this
// sequence's prefix
func (q *InvoiceSequence) Parse(number string) (int64, error) {
	suffix, ok := strings.CutPrefix(number, q.prefix+"-")
	if !ok || suffix == "" {
		return 0, fmt.Errorf("invoice number %q does not have prefix %s", number, q.prefix)
	}
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invoice number %q has invalid suffix", number)
	}
	return n, nil
}

// Sync raises the counter to the highest invoice number already stored, so a
// database populated before the counter existed continues where it left off.
func (q *InvoiceSequence) Sync(ctx context.Context) error {
	last, err := q.store.LastIssuedInvoiceNumber(ctx, q.prefix)
	if err != nil {
		return fmt.Errorf("failed to read last invoice number: %w", err)
	}
	if last == "" {
		return nil
	}

	n, err := q.Parse(last)
	if err != nil {
		q.logger.Warn("Ignoring unparseable invoice number during sync",
			zap.String("invoice_number", last),
			zap.Error(err))
		return nil
	}

	if err := q.store.RaiseSequence(ctx, q.prefix, n); err != nil {
		return err
	}
	q.logger.Info("Invoice sequence synced", zap.String("prefix", q.prefix), zap.Int64("last_issued", n))
	return nil
}
