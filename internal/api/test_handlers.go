package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcheck/dialcheck/internal/api/middleware"
	"github.com/dialcheck/dialcheck/internal/database/models"
	"github.com/dialcheck/dialcheck/internal/email"
)

// testResponse is the JSON shape for a verification test.
type testResponse struct {
	PublicID    string    `json:"public_id"`
	Phone       string    `json:"phone"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTestResponse(s *models.VerificationSession) testResponse {
	return testResponse{
		PublicID:    s.PublicID,
		Phone:       s.Phone,
		Status:      s.Status,
		Attempts:    s.Attempts,
		MaxAttempts: s.MaxAttempts,
		ExpiresAt:   s.ExpiresAt,
		CreatedAt:   s.CreatedAt,
	}
}

// handleCreateTest starts a new verification test: it generates the code
// words, opens a session for the user's phone number, and emails the words
// together with the number to dial. Any previous active test for the same
// number is superseded.
func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	auth := middleware.UserFromContext(r.Context())
	if auth == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), auth.ID)
	if err != nil {
		s.logger.Error("create test: loading user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	if !user.Verified {
		writeError(w, http.StatusForbidden, "verify your email address before starting a test")
		return
	}

	words := s.generator.Phrase()

	session := &models.VerificationSession{
		UserID:      user.ID,
		Phone:       user.Phone,
		CodeWords:   strings.Join(words, " "),
		MaxAttempts: s.cfg.MaxAttempts,
		Status:      models.StatusAwaitingCall,
		ExpiresAt:   time.Now().Add(s.cfg.SessionTTL).UTC(),
	}
	if err := s.tests.Create(r.Context(), session); err != nil {
		s.logger.Error("create test: creating session", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	msg := email.CodeWordsEmail{
		To:         user.Email,
		Name:       user.FirstName,
		Words:      words,
		DialNumber: s.cfg.TwilioPhoneNumber,
	}
	if err := s.emailer.SendCodeWords(r.Context(), msg); err != nil {
		// The test is live; the user can still complete it if they find
		// the words another way, so report the email problem separately.
		s.logger.Error("create test: sending code words email", "error", err, "user_id", user.ID)
		writeError(w, http.StatusBadGateway, "test created but the code words email could not be sent")
		return
	}

	s.logger.Info("verification test started",
		"user_id", user.ID,
		"public_id", session.PublicID,
		"phone", session.Phone,
	)
	writeJSON(w, http.StatusCreated, toTestResponse(session))
}

// handleListTests returns a page of the user's tests, newest first.
func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	auth := middleware.UserFromContext(r.Context())
	if auth == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	p, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	sessions, total, err := s.tests.ListByUser(r.Context(), auth.ID, p.Limit, p.Offset)
	if err != nil {
		s.logger.Error("list tests", "error", err, "user_id", auth.ID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	items := make([]testResponse, 0, len(sessions))
	for _, sess := range sessions {
		items = append(items, toTestResponse(sess))
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}

// handleGetTest returns a single test by public ID. Only the owner can see
// it; anyone else gets 404 so public IDs leak nothing.
func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	auth := middleware.UserFromContext(r.Context())
	if auth == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	publicID := chi.URLParam(r, "publicID")
	session, err := s.tests.GetByPublicID(r.Context(), publicID)
	if err != nil {
		s.logger.Error("get test", "error", err, "public_id", publicID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if session == nil || session.UserID != auth.ID {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}

	writeJSON(w, http.StatusOK, toTestResponse(session))
}
