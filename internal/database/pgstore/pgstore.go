// Package pgstore provides PostgreSQL-backed implementations of the
// repository interfaces for multi-instance deployments, where SQLite's
// single-writer model is not enough. Selected via --database-url.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dialcheck/dialcheck/internal/database"
	"github.com/dialcheck/dialcheck/internal/database/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store holds the PostgreSQL connection and hands out repository
// implementations bound to it.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Users returns the user repository bound to this store.
func (s *Store) Users() database.UserRepository {
	return &userStore{db: s.db}
}

// Sessions returns the verification session repository bound to this store.
func (s *Store) Sessions() database.SessionRepository {
	return &sessionStore{db: s.db}
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

// userStore implements database.UserRepository over PostgreSQL.
type userStore struct {
	db *sql.DB
}

func (r *userStore) Create(ctx context.Context, user *models.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (first_name, last_name, email, phone, password_hash, verified, opt_in_sms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		user.FirstName, user.LastName, user.Email, user.Phone,
		user.PasswordHash, user.Verified, user.OptInSMS,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (r *userStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, phone, password_hash,
		 verified, opt_in_sms, created_at, updated_at
		 FROM users WHERE id = $1`, id,
	))
}

func (r *userStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, phone, password_hash,
		 verified, opt_in_sms, created_at, updated_at
		 FROM users WHERE email = $1`, email,
	))
}

func (r *userStore) Update(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET first_name = $1, last_name = $2, email = $3, phone = $4,
		 password_hash = $5, verified = $6, opt_in_sms = $7, updated_at = NOW()
		 WHERE id = $8`,
		user.FirstName, user.LastName, user.Email, user.Phone,
		user.PasswordHash, user.Verified, user.OptInSMS, user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

func (r *userStore) MarkVerified(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking user verified: %w", err)
	}
	return nil
}

// sessionStore implements database.SessionRepository over PostgreSQL.
type sessionStore struct {
	db *sql.DB
}

const sessionColumns = `id, public_id, user_id, phone, code_words, attempts,
	max_attempts, status, last_turn_key, version, expires_at, created_at, updated_at`

// Create inserts a new session, superseding any previous active session for
// the same phone number in the same transaction.
func (r *sessionStore) Create(ctx context.Context, session *models.VerificationSession) error {
	if session.PublicID == "" {
		session.PublicID = uuid.NewString()
	}
	if session.Version == 0 {
		session.Version = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE verification_sessions
		 SET status = $1, version = version + 1, updated_at = NOW()
		 WHERE phone = $2 AND status = $3`,
		models.StatusFailed, session.Phone, models.StatusAwaitingCall,
	)
	if err != nil {
		return fmt.Errorf("superseding active session: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO verification_sessions (public_id, user_id, phone, code_words,
		 attempts, max_attempts, status, last_turn_key, version, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		session.PublicID, session.UserID, session.Phone, session.CodeWords,
		session.Attempts, session.MaxAttempts, session.Status,
		session.LastTurnKey, session.Version, session.ExpiresAt,
	).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session create: %w", err)
	}
	return nil
}

func (r *sessionStore) GetActiveByPhone(ctx context.Context, phone string) (*models.VerificationSession, error) {
	return scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions
		 WHERE phone = $1 AND status = $2`, phone, models.StatusAwaitingCall,
	))
}

func (r *sessionStore) GetByPublicID(ctx context.Context, publicID string) (*models.VerificationSession, error) {
	return scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions
		 WHERE public_id = $1`, publicID,
	))
}

// ListByUser returns a page of the user's sessions, newest first.
func (r *sessionStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.VerificationSession, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verification_sessions WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting user sessions: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.VerificationSession
	for rows.Next() {
		var sess models.VerificationSession
		if err := rows.Scan(&sess.ID, &sess.PublicID, &sess.UserID, &sess.Phone,
			&sess.CodeWords, &sess.Attempts, &sess.MaxAttempts, &sess.Status,
			&sess.LastTurnKey, &sess.Version, &sess.ExpiresAt, &sess.CreatedAt,
			&sess.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, total, rows.Err()
}

// Save persists session changes guarded by the version compare-and-swap.
func (r *sessionStore) Save(ctx context.Context, session *models.VerificationSession) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE verification_sessions
		 SET attempts = $1, status = $2, last_turn_key = $3,
		     version = version + 1, updated_at = NOW()
		 WHERE id = $4 AND version = $5`,
		session.Attempts, session.Status, session.LastTurnKey,
		session.ID, session.Version,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return database.ErrConflict
	}

	session.Version++
	return nil
}

func (r *sessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_sessions
		 WHERE expires_at < NOW() AND status IN ($1, $2)`,
		models.StatusPending, models.StatusAwaitingCall,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return result.RowsAffected()
}

func (r *sessionStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM verification_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning session count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanUser(row *sql.Row) (*models.User, error) {
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

func scanSession(row *sql.Row) (*models.VerificationSession, error) {
	var sess models.VerificationSession
	err := row.Scan(&sess.ID, &sess.PublicID, &sess.UserID, &sess.Phone,
		&sess.CodeWords, &sess.Attempts, &sess.MaxAttempts, &sess.Status,
		&sess.LastTurnKey, &sess.Version, &sess.ExpiresAt, &sess.CreatedAt,
		&sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}
