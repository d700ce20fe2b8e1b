package database

import (
	"context"
	"errors"

	"github.com/dialcheck/dialcheck/internal/database/models"
)

// ErrConflict is returned by SessionRepository.Save when the session's version
// no longer matches the stored row: another webhook turn won the
// read-modify-write race.
var ErrConflict = errors.New("session was modified concurrently")

// UserRepository manages user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	MarkVerified(ctx context.Context, id int64) error
}

// SessionRepository manages verification sessions. Lookups that find no row
// return (nil, nil); the caller decides whether absence is an error.
type SessionRepository interface {
	// Create inserts a new session. Any previous active session for the
	// same phone number is superseded (marked failed) in the same
	// transaction so a phone resolves to at most one active session.
	Create(ctx context.Context, session *models.VerificationSession) error

	// GetActiveByPhone returns the awaiting_call session for the number.
	GetActiveByPhone(ctx context.Context, phone string) (*models.VerificationSession, error)

	// GetByPublicID returns a session by its opaque public identifier.
	GetByPublicID(ctx context.Context, publicID string) (*models.VerificationSession, error)

	// ListByUser returns a page of the user's sessions, newest first, plus
	// the total count for pagination.
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.VerificationSession, int64, error)

	// Save persists attempts/status/last_turn_key changes guarded by the
	// session's version (compare-and-swap). Returns ErrConflict if the
	// stored version differs; on success the in-memory version is bumped.
	Save(ctx context.Context, session *models.VerificationSession) error

	// DeleteExpired removes non-terminal sessions past their expiry and
	// returns how many were deleted.
	DeleteExpired(ctx context.Context) (int64, error)

	// CountByStatus returns session counts grouped by status, for metrics.
	CountByStatus(ctx context.Context) (map[string]int64, error)
}
