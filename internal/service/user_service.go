package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrAlreadyInitialized = errors.New("users are already configured")
	ErrLastAdmin          = errors.New("the last active administrator cannot be removed")
)

// UserService manages the operators who log in to the point of sale
type UserService struct {
	store   *store.Store
	tracker *LoginTracker
	logger  *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(store *store.Store, tracker *LoginTracker) *UserService {
	return &UserService{store: store, tracker: tracker, logger: util.GetLogger()}
}

// UserInput carries the fields of a new user
type UserInput struct {
	Email    string `json:"email" binding:"required"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

// UserUpdate carries the editable fields of a user. Nil fields are left as
// they are.
type UserUpdate struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Role     *string `json:"role"`
	Active   *bool   `json:"active"`
}

func (in *UserInput) normalize() error {
	in.Email = normalizeAccount(in.Email)
	in.Username = normalizeAccount(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)

	if _, err := mail.ParseAddress(in.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidInput, in.Email)
	}
	if in.Username == "" {
		in.Username, _, _ = strings.Cut(in.Email, "@")
	}
	if strings.Contains(in.Username, "@") {
		return fmt.Errorf("%w: username cannot contain @", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if in.Role == "" {
		in.Role = models.RoleCashier
	}
	if !models.IsValidRole(in.Role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	return nil
}

// CreateUser registers a new operator with a bcrypt password hash
func (u *UserService) CreateUser(ctx context.Context, in *UserInput) (*models.User, error) {
	return u.createUser(ctx, u.store, in)
}

// Setup creates the first administrator. It fails with ErrAlreadyInitialized
// once any user exists.
func (u *UserService) Setup(ctx context.Context, in *UserInput) (*models.User, error) {
	in.Role = models.RoleAdmin

	var user *models.User
	err := u.store.RunAtomic(ctx, func(tx *store.Store) error {
		n, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyInitialized
		}
		user, err = u.createUser(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (u *UserService) createUser(ctx context.Context, st *store.Store, in *UserInput) (*models.User, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        in.Email,
		Username:     in.Username,
		FullName:     in.FullName,
		PasswordHash: hash,
		Role:         in.Role,
		Active:       true,
	}
	if err := st.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUser, in.Email)
		}
		return nil, err
	}

	u.logger.Info("User created",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("role", user.Role))
	return user, nil
}

// GetUser retrieves a user by ID
func (u *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := u.store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	return user, err
}

// ListUsers lists every user, active or not
func (u *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	return u.store.ListUsers(ctx)
}

// UpdateUser changes profile, role or active flag
func (u *UserService) UpdateUser(ctx context.Context, id int64, upd *UserUpdate) (*models.User, error) {
	user, err := u.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Email != nil {
		email := normalizeAccount(*upd.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: invalid email %q", ErrInvalidInput, email)
		}
		user.Email = email
	}
	if upd.FullName != nil {
		user.FullName = strings.TrimSpace(*upd.FullName)
	}
	if upd.Role != nil {
		if !models.IsValidRole(*upd.Role) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *upd.Role)
		}
		user.Role = *upd.Role
	}
	if upd.Active != nil {
		user.Active = *upd.Active
	}
	if err := u.keepAnAdmin(ctx, user); err != nil {
		return nil, err
	}

	if err := u.store.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUser, user.Email)
		}
		return nil, err
	}
	return user, nil
}

// DeactivateUser disables a user; users are never deleted
func (u *UserService) DeactivateUser(ctx context.Context, id int64) error {
	active := false
	_, err := u.UpdateUser(ctx, id, &UserUpdate{Active: &active})
	if err == nil {
		u.logger.Info("User deactivated", zap.Int64("user_id", id))
	}
	return err
}

// UnlockUser clears the login lockout of a user
func (u *UserService) UnlockUser(ctx context.Context, id int64) error {
	user, err := u.GetUser(ctx, id)
	if err != nil {
		return err
	}
	return u.tracker.Unlock(ctx, lockoutKey(user))
}

// LockoutStatus returns the login attempt record of a user
func (u *UserService) LockoutStatus(ctx context.Context, id int64) (*models.LoginAttempt, error) {
	user, err := u.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.tracker.Status(ctx, lockoutKey(user))
}

// keepAnAdmin refuses a change that would leave no active administrator.
func (u *UserService) keepAnAdmin(ctx context.Context, changed *models.User) error {
	if changed.Active && changed.Role == models.RoleAdmin {
		return nil
	}
	current, err := u.store.GetUserByID(ctx, changed.ID)
	if err != nil {
		return err
	}
	if !current.Active || current.Role != models.RoleAdmin {
		return nil
	}
	n, err := u.store.CountActiveAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
