package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dialcheck/dialcheck/internal/database/models"
)

// userRepo implements UserRepository over SQLite.
type userRepo struct {
	db *DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *DB) UserRepository {
	return &userRepo{db: db}
}

// Create inserts a new user.
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (first_name, last_name, email, phone, password_hash,
		 verified, opt_in_sms, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		user.FirstName, user.LastName, user.Email, user.Phone,
		user.PasswordHash, user.Verified, user.OptInSMS,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	user.ID = id
	return nil
}

// GetByID returns a user by ID.
func (r *userRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, phone, password_hash,
		 verified, opt_in_sms, created_at, updated_at
		 FROM users WHERE id = ?`, id,
	))
}

// GetByEmail returns a user by email address.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, phone, password_hash,
		 verified, opt_in_sms, created_at, updated_at
		 FROM users WHERE email = ?`, email,
	))
}

// Update modifies an existing user's profile fields.
func (r *userRepo) Update(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET first_name = ?, last_name = ?, email = ?, phone = ?,
		 password_hash = ?, verified = ?, opt_in_sms = ?,
		 updated_at = datetime('now')
		 WHERE id = ?`,
		user.FirstName, user.LastName, user.Email, user.Phone,
		user.PasswordHash, user.Verified, user.OptInSMS, user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

// MarkVerified flags the user's email address as confirmed.
func (r *userRepo) MarkVerified(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET verified = 1, updated_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking user verified: %w", err)
	}
	return nil
}

func (r *userRepo) scanOne(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone,
		&u.PasswordHash, &u.Verified, &u.OptInSMS, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}
