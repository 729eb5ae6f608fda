package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pos-service/internal/models"
)

// FailureResult is the state of a login attempt record right after a failure
// was counted.
type FailureResult struct {
	FailedCount int  `db:"failed_count"`
	Locked      bool `db:"locked"`
}

// IncrementLoginFailure counts one failed attempt for account in a single
// statement. The record is created on the first failure; the lock flag and
// lock time are set when the post-increment count reaches threshold.
//
// A record locked at or before expiredBefore is treated as fresh, so the
// failure restarts the count at 1. Pass an invalid expiredBefore when locks
// never expire.
func (s *Store) IncrementLoginFailure(ctx context.Context, account, ip, userAgent string, threshold int, at time.Time, expiredBefore sql.NullTime) (*FailureResult, error) {
	lockedNow := threshold <= 1
	lockedAt := sql.NullTime{Time: at, Valid: lockedNow}

	var res FailureResult
	err := s.get(ctx, &res, `
		INSERT INTO login_attempts (account, failed_count, last_attempt_at, last_ip, last_user_agent, locked, locked_at)
		VALUES (?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET
			failed_count = CASE
				WHEN login_attempts.locked AND login_attempts.locked_at <= ? THEN excluded.failed_count
				ELSE login_attempts.failed_count + 1
			END,
			last_attempt_at = excluded.last_attempt_at,
			last_ip = excluded.last_ip,
			last_user_agent = excluded.last_user_agent,
			locked = CASE
				WHEN login_attempts.locked AND login_attempts.locked_at <= ? THEN excluded.locked
				WHEN login_attempts.failed_count + 1 >= ? THEN TRUE
				ELSE login_attempts.locked
			END,
			locked_at = CASE
				WHEN login_attempts.locked AND login_attempts.locked_at <= ? THEN excluded.locked_at
				WHEN login_attempts.locked THEN login_attempts.locked_at
				WHEN login_attempts.failed_count + 1 >= ? THEN excluded.last_attempt_at
				ELSE NULL
			END
		RETURNING failed_count, locked`,
		account, at, ip, userAgent, lockedNow, lockedAt,
		expiredBefore,
		expiredBefore, threshold,
		expiredBefore, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	return &res, nil
}

// ClearLoginFailures resets the counter for account unless the account is
// locked. A lock set at or before expiredBefore no longer counts. It reports
// false when a live lock kept the record unchanged; a missing record is not
// an error and reports true.
func (s *Store) ClearLoginFailures(ctx context.Context, account string, at time.Time, expiredBefore sql.NullTime) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE login_attempts
		SET failed_count = 0, locked = FALSE, locked_at = NULL, last_attempt_at = ?
		WHERE account = ? AND (locked = FALSE OR locked_at <= ?)`,
		at, account, expiredBefore)
	if err != nil {
		return false, fmt.Errorf("failed to clear login failures: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var locked bool
	err = s.get(ctx, &locked, "SELECT locked FROM login_attempts WHERE account = ?", account)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !locked, nil
}

// ResetLoginAttempts clears the failure counter and lock for account. It is a
// no-op when no record exists.
func (s *Store) ResetLoginAttempts(ctx context.Context, account string, at time.Time) error {
	_, err := s.exec(ctx, `
		UPDATE login_attempts
		SET failed_count = 0, locked = FALSE, locked_at = NULL, last_attempt_at = ?
		WHERE account = ?`,
		at, account)
	if err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

// GetLoginAttempt retrieves the record for account, or nil when none exists
func (s *Store) GetLoginAttempt(ctx context.Context, account string) (*models.LoginAttempt, error) {
	var attempt models.LoginAttempt
	err := s.get(ctx, &attempt, "SELECT * FROM login_attempts WHERE account = ?", account)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ListLoginAttempts retrieves records with at least one failure, most recent
// attempt first
func (s *Store) ListLoginAttempts(ctx context.Context, lockedOnly bool, limit int) ([]models.LoginAttempt, error) {
	query := "SELECT * FROM login_attempts WHERE failed_count > 0"
	if lockedOnly {
		query += " AND locked = TRUE"
	}
	query += " ORDER BY last_attempt_at DESC, id DESC LIMIT ?"

	attempts := []models.LoginAttempt{}
	err := s.selectAll(ctx, &attempts, query, limit)
	return attempts, err
}
