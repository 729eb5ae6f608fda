package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pos-service/internal/auth"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthService authenticates users against stored bcrypt hashes and the
// login tracker
type AuthService struct {
	store   *store.Store
	tracker *LoginTracker
	tokens  *auth.TokenIssuer
	logger  *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(store *store.Store, tracker *LoginTracker, tokens *auth.TokenIssuer) *AuthService {
	return &AuthService{
		store:   store,
		tracker: tracker,
		tokens:  tokens,
		logger:  util.GetLogger(),
	}
}

// LoginRequest represents a login attempt
type LoginRequest struct {
	Account   string `json:"account" binding:"required"`
	Password  string `json:"password" binding:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResult is returned after a successful login
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Login checks the lock, verifies the password and issues a token. Failures
// are counted against the user's canonical account whichever identifier was
// typed; unknown identifiers are counted as typed.
func (a *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	user, account, err := a.resolveAccount(ctx, req.Account)
	if err != nil {
		return nil, err
	}

	status, err := a.tracker.Status(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to read login status: %w", err)
	}
	if status.Locked {
		return nil, &AccountLockedError{Account: account, FailedCount: status.FailedCount}
	}

	if user == nil || !user.Active ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, a.fail(ctx, account, req)
	}

	// Refused if a concurrent failure locked the account after the check above.
	if err := a.tracker.RecordSuccess(ctx, account); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := a.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		a.logger.Warn("Failed to stamp last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	token, expiresAt, err := a.tokens.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	util.LoginSuccessTotal.Inc()
	a.logger.Info("User logged in", zap.Int64("user_id", user.ID), zap.String("ip", req.IP))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// AccountKey returns the identifier the lockout tracker uses for a typed
// email or username
func (a *AuthService) AccountKey(ctx context.Context, typed string) (string, error) {
	_, account, err := a.resolveAccount(ctx, typed)
	return account, err
}

func (a *AuthService) resolveAccount(ctx context.Context, typed string) (*models.User, string, error) {
	typed = normalizeAccount(typed)
	user, err := a.store.GetUserByAccount(ctx, typed)
	if errors.Is(err, store.ErrNotFound) {
		return nil, typed, nil
	}
	if err != nil {
		return nil, "", err
	}
	return user, lockoutKey(user), nil
}

// lockoutKey is the tracker key of a known user: the email, or the username
// for users without one.
func lockoutKey(u *models.User) string {
	if key := normalizeAccount(u.Email); key != "" {
		return key
	}
	return normalizeAccount(u.Username)
}

func (a *AuthService) fail(ctx context.Context, account string, req *LoginRequest) error {
	attempt, err := a.tracker.RecordFailure(ctx, account, req.IP, req.UserAgent)
	if err != nil {
		return err
	}
	if attempt.Locked {
		return &AccountLockedError{Account: account, FailedCount: attempt.FailedCount}
	}
	return ErrInvalidCredentials
}

// EnsureAdmin creates the first admin user when the users table is empty
func (a *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	n, err := a.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if email == "" || password == "" {
		a.logger.Warn("No users exist and no bootstrap admin is configured")
		return nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	email = normalizeAccount(email)
	username, _, _ := strings.Cut(email, "@")
	user := &models.User{
		Email:        email,
		Username:     username,
		FullName:     "Administrator",
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		Active:       true,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return err
	}

	a.logger.Info("Bootstrap admin created", zap.String("email", email))
	return nil
}
