package models

import (
	"strings"
	"time"
)

// Verification session statuses. AwaitingCall is the only status from which
// the voice webhook will engage; Success and Failed are terminal.
const (
	StatusPending      = "pending"
	StatusAwaitingCall = "awaiting_call"
	StatusSuccess      = "success"
	StatusFailed       = "failed"
)

// User represents an account that can run phone verification tests.
type User struct {
	ID           int64
	FirstName    string
	LastName     string
	Email        string
	Phone        string // E.164
	PasswordHash string
	Verified     bool // email address confirmed
	OptInSMS     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Name returns the user's display name.
func (u *User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// VerificationSession is the durable record of one phone verification test.
// It is the only state carried across voice webhook turns: the caller's
// number resolves to at most one active session, and every webhook decision
// is rederived from this record plus the turn payload.
type VerificationSession struct {
	ID          int64
	PublicID    string // opaque identifier exposed over the API
	UserID      int64
	Phone       string // E.164, the number under test
	CodeWords   string // space-joined expected phrase, fixed at creation
	Attempts    int    // failed spoken turns so far
	MaxAttempts int
	Status      string
	LastTurnKey string // key of the last counted spoken turn, echoed from the gather action URL
	Version     int64  // optimistic concurrency token, bumped on every save
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Words returns the expected phrase as an ordered word slice.
func (s *VerificationSession) Words() []string {
	return strings.Fields(s.CodeWords)
}

// Terminal reports whether the session can no longer change state.
func (s *VerificationSession) Terminal() bool {
	return s.Status == StatusSuccess || s.Status == StatusFailed
}
