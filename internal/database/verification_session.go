package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dialcheck/dialcheck/internal/database/models"
)

// sessionRepo implements SessionRepository over SQLite.
type sessionRepo struct {
	db *DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *DB) SessionRepository {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, public_id, user_id, phone, code_words, attempts,
	max_attempts, status, last_turn_key, version, expires_at, created_at, updated_at`

// Create inserts a new session, superseding any previous active session for
// the same phone number in the same transaction. The partial unique index on
// active phone numbers makes the supersede-then-insert sequence safe against
// concurrent creation.
func (r *sessionRepo) Create(ctx context.Context, session *models.VerificationSession) error {
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
		 SET status = ?, version = version + 1, updated_at = datetime('now')
		 WHERE phone = ? AND status = ?`,
		models.StatusFailed, session.Phone, models.StatusAwaitingCall,
	)
	if err != nil {
		return fmt.Errorf("superseding active session: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO verification_sessions (public_id, user_id, phone, code_words,
		 attempts, max_attempts, status, last_turn_key, version, expires_at,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		session.PublicID, session.UserID, session.Phone, session.CodeWords,
		session.Attempts, session.MaxAttempts, session.Status,
		session.LastTurnKey, session.Version, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	session.ID = id

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session create: %w", err)
	}
	return nil
}

// GetActiveByPhone returns the awaiting_call session for the given number.
func (r *sessionRepo) GetActiveByPhone(ctx context.Context, phone string) (*models.VerificationSession, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions
		 WHERE phone = ? AND status = ?`, phone, models.StatusAwaitingCall,
	))
}

// GetByPublicID returns a session by its opaque public identifier.
func (r *sessionRepo) GetByPublicID(ctx context.Context, publicID string) (*models.VerificationSession, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions
		 WHERE public_id = ?`, publicID,
	))
}

// ListByUser returns a page of the user's sessions, newest first.
func (r *sessionRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.VerificationSession, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verification_sessions WHERE user_id = ?`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting user sessions: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM verification_sessions
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.VerificationSession
	for rows.Next() {
		var s models.VerificationSession
		if err := rows.Scan(&s.ID, &s.PublicID, &s.UserID, &s.Phone, &s.CodeWords,
			&s.Attempts, &s.MaxAttempts, &s.Status, &s.LastTurnKey, &s.Version,
			&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, total, rows.Err()
}

// Save persists the session's mutable fields guarded by its version. The
// compare-and-swap serializes concurrent webhook turns for the same phone
// number: the loser sees ErrConflict instead of silently undercounting
// attempts.
func (r *sessionRepo) Save(ctx context.Context, session *models.VerificationSession) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE verification_sessions
		 SET attempts = ?, status = ?, last_turn_key = ?,
		     version = version + 1, updated_at = datetime('now')
		 WHERE id = ? AND version = ?`,
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
		return ErrConflict
	}

	session.Version++
	return nil
}

// DeleteExpired removes non-terminal sessions past their expiry.
func (r *sessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_sessions
		 WHERE expires_at < datetime('now') AND status IN (?, ?)`,
		models.StatusPending, models.StatusAwaitingCall,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// CountByStatus returns session counts grouped by status.
func (r *sessionRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
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

func (r *sessionRepo) scanOne(row *sql.Row) (*models.VerificationSession, error) {
	var s models.VerificationSession
	err := row.Scan(&s.ID, &s.PublicID, &s.UserID, &s.Phone, &s.CodeWords,
		&s.Attempts, &s.MaxAttempts, &s.Status, &s.LastTurnKey, &s.Version,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &s, nil
}
