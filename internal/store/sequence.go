package store

import (
	"context"
	"database/sql"
	"fmt"
)

// NextSequenceValue atomically increments the named counter and returns the
// new value. The first call for a name returns 1. Concurrent callers are
// serialized on the counter row, so no two ever see the same value.
func (s *Store) NextSequenceValue(ctx context.Context, name string) (int64, error) {
	var next int64
	err := s.get(ctx, &next, `
		INSERT INTO invoice_sequences (name, last_value) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value`,
		name)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return next, nil
}

// CurrentSequenceValue returns the last value issued for name, 0 if none.
func (s *Store) CurrentSequenceValue(ctx context.Context, name string) (int64, error) {
	var current int64
	err := s.get(ctx, &current, "SELECT last_value FROM invoice_sequences WHERE name = ?", name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return current, err
}

// RaiseSequence moves the counter up to floor if it is currently below it.
// It never lowers the counter.
func (s *Store) RaiseSequence(ctx context.Context, name string, floor int64) error {
	_, err := s.exec(ctx, `
		INSERT INTO invoice_sequences (name, last_value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET last_value = excluded.last_value
		WHERE invoice_sequences.last_value < excluded.last_value`,
		name, floor)
	if err != nil {
		return fmt.Errorf("failed to raise sequence %s: %w", name, err)
	}
	return nil
}
