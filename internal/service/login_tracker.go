package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// DefaultLockoutThreshold is the number of consecutive failures that locks an account
const DefaultLockoutThreshold = 3

// LoginTracker counts consecutive failed logins per account and locks the
// account once the threshold is reached
type LoginTracker struct {
	store           *store.Store
	threshold       int
	lockoutDuration time.Duration
	publisher       EventPublisher
	logger          *zap.Logger
	now             func() time.Time
}

// NewLoginTracker creates a new login tracker. A lockoutDuration of zero keeps
// accounts locked until they are explicitly unlocked.
func NewLoginTracker(store *store.Store, threshold int, lockoutDuration time.Duration, publisher EventPublisher) *LoginTracker {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &LoginTracker{
		store:           store,
		threshold:       threshold,
		lockoutDuration: lockoutDuration,
		publisher:       publisher,
		logger:          util.GetLogger(),
		now:             time.Now,
	}
}

// Threshold returns the number of failures that locks an account
func (t *LoginTracker) Threshold() int {
	return t.threshold
}

// RecordFailure counts one failed attempt and returns the resulting record
func (t *LoginTracker) RecordFailure(ctx context.Context, account, ip, userAgent string) (*models.LoginAttempt, error) {
	ctx, span := util.StartSpan(ctx, "LoginTracker.RecordFailure")
	defer span.End()

	account = normalizeAccount(account)
	now := t.now().UTC()

	res, err := t.store.IncrementLoginFailure(ctx, account, ip, userAgent, t.threshold, now, t.expiryCutoff(now))
	if err != nil {
		return nil, err
	}
	util.LoginFailuresTotal.Inc()

	if res.Locked && res.FailedCount == t.threshold {
		util.AccountsLockedTotal.Inc()
		t.logger.Warn("Account locked after repeated login failures",
			zap.String("account", account),
			zap.Int("failed_count", res.FailedCount),
			zap.String("ip", ip))

		event := &models.AccountLockedEvent{
			BaseEvent:   newBaseEvent(models.EventTypeAccountLocked),
			Account:     account,
			FailedCount: res.FailedCount,
			IPAddress:   ip,
		}
		if err := t.publisher.PublishAccountLocked(ctx, event); err != nil {
			t.logger.Error("Failed to publish AccountLocked event", zap.Error(err))
		}
	}

	attempt, err := t.store.GetLoginAttempt(ctx, account)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, fmt.Errorf("login attempt for %s vanished after update", account)
	}
	return attempt, nil
}

// RecordSuccess clears the failure count. A locked account is left as it is
// and AccountLockedError is returned.
func (t *LoginTracker) RecordSuccess(ctx context.Context, account string) error {
	account = normalizeAccount(account)
	now := t.now().UTC()

	cleared, err := t.store.ClearLoginFailures(ctx, account, now, t.expiryCutoff(now))
	if err != nil {
		return err
	}
	if cleared {
		return nil
	}

	attempt, err := t.store.GetLoginAttempt(ctx, account)
	if err != nil {
		return err
	}
	lockedErr := &AccountLockedError{Account: account}
	if attempt != nil {
		lockedErr.FailedCount = attempt.FailedCount
	}
	return lockedErr
}

// Unlock force-resets an account
func (t *LoginTracker) Unlock(ctx context.Context, account string) error {
	account = normalizeAccount(account)
	if err := t.store.ResetLoginAttempts(ctx, account, t.now().UTC()); err != nil {
		return err
	}
	t.logger.Info("Account unlocked", zap.String("account", account))
	return nil
}

// Status returns the record for account. Accounts with no recorded failures
// get a zero record.
func (t *LoginTracker) Status(ctx context.Context, account string) (*models.LoginAttempt, error) {
	account = normalizeAccount(account)
	attempt, err := t.store.GetLoginAttempt(ctx, account)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return &models.LoginAttempt{Account: account}, nil
	}
	if attempt.Locked && t.lockExpired(attempt, t.now().UTC()) {
		attempt.Locked = false
	}
	return attempt, nil
}

// IsLocked reports whether account is currently locked
func (t *LoginTracker) IsLocked(ctx context.Context, account string) (bool, error) {
	attempt, err := t.Status(ctx, account)
	if err != nil {
		return false, err
	}
	return attempt.Locked, nil
}

// ListAttempts returns accounts with recorded failures, most recent first
func (t *LoginTracker) ListAttempts(ctx context.Context, lockedOnly bool, limit int) ([]models.LoginAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	attempts, err := t.store.ListLoginAttempts(ctx, lockedOnly, limit)
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()
	for i := range attempts {
		if attempts[i].Locked && t.lockExpired(&attempts[i], now) {
			attempts[i].Locked = false
		}
	}
	return attempts, nil
}

// expiryCutoff is the lock time at or before which a lock has expired.
func (t *LoginTracker) expiryCutoff(now time.Time) sql.NullTime {
	if t.lockoutDuration <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: now.Add(-t.lockoutDuration), Valid: true}
}

func (t *LoginTracker) lockExpired(attempt *models.LoginAttempt, now time.Time) bool {
	if t.lockoutDuration <= 0 || !attempt.LockedAt.Valid {
		return false
	}
	return !now.Before(attempt.LockedAt.Time.Add(t.lockoutDuration))
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
