package store

import (
	"context"
	"fmt"
	"time"

	"pos-service/internal/models"
)

// CreateUser inserts a new user and sets its ID
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	u.CreatedAt = time.Now().UTC()

	err := s.get(ctx, &u.ID, `
		INSERT INTO users (email, username, full_name, password_hash, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		u.Email, u.Username, u.FullName, u.PasswordHash, u.Role, u.Active, u.CreatedAt)
	if uniqueViolation(err, "") {
		return fmt.Errorf("%w: user %s", ErrDuplicate, u.Email)
	}
	return err
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.get(ctx, &user, "SELECT * FROM users WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &user, nil
}

// GetUserByAccount retrieves a user by email or username
func (s *Store) GetUserByAccount(ctx context.Context, account string) (*models.User, error) {
	var user models.User
	err := s.get(ctx, &user,
		"SELECT * FROM users WHERE LOWER(email) = ? OR LOWER(username) = ? LIMIT 1",
		account, account)
	if err != nil {
		return nil, notFound(err, "user %s", account)
	}
	return &user, nil
}

// ListUsers retrieves all users ordered by username
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := s.selectAll(ctx, &users, "SELECT * FROM users ORDER BY username, id")
	return users, err
}

// UpdateUser updates profile, role and active flag. The password hash is
// not written here.
func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	res, err := s.exec(ctx, `
		UPDATE users SET email = ?, full_name = ?, role = ?, active = ?
		WHERE id = ?`,
		u.Email, u.FullName, u.Role, u.Active, u.ID)
	if err != nil {
		if uniqueViolation(err, "") {
			return fmt.Errorf("%w: user %s", ErrDuplicate, u.Email)
		}
		return err
	}
	return requireAffected(res, "user %d", u.ID)
}

// SetUserActive enables or disables a user; users are never deleted
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := s.exec(ctx, "UPDATE users SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "user %d", id)
}

// CountActiveAdmins returns the number of active users with the admin role
func (s *Store) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.get(ctx, &n, "SELECT COUNT(*) FROM users WHERE role = ? AND active = TRUE", models.RoleAdmin)
	return n, err
}

// CountUsers returns the number of users
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.get(ctx, &n, "SELECT COUNT(*) FROM users")
	return n, err
}

// TouchLastLogin stamps the user's last successful login
func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.exec(ctx, "UPDATE users SET last_login_at = ? WHERE id = ?", at, id)
	return err
}

// CreateClient inserts a new client and sets its ID
func (s *Store) CreateClient(ctx context.Context, c *models.Client) error {
	c.CreatedAt = time.Now().UTC()

	return s.get(ctx, &c.ID, `
		INSERT INTO clients (name, document, email, phone, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		c.Name, c.Document, c.Email, c.Phone, c.Active, c.CreatedAt)
}

// GetClientByID retrieves a client by ID
func (s *Store) GetClientByID(ctx context.Context, id int64) (*models.Client, error) {
	var client models.Client
	err := s.get(ctx, &client, "SELECT * FROM clients WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err, "client %d", id)
	}
	return &client, nil
}
