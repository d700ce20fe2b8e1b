package api

import (
	"net/http"
	"time"

	"github.com/dialcheck/dialcheck/internal/api/middleware"
	"github.com/dialcheck/dialcheck/internal/database"
	"github.com/dialcheck/dialcheck/internal/database/models"
	"github.com/dialcheck/dialcheck/internal/email"
)

// userResponse is the JSON shape for a user account.
type userResponse struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Verified  bool      `json:"verified"`
	OptInSMS  bool      `json:"opt_in_sms"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Phone:     u.Phone,
		Verified:  u.Verified,
		OptInSMS:  u.OptInSMS,
		CreatedAt: u.CreatedAt,
	}
}

// signupRequest is the payload for POST /api/v1/auth/signup.
type signupRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	OptInSMS  bool   `json:"opt_in_sms"`
}

// handleSignup creates a new account and emails a confirmation link.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	for _, errMsg := range []string{
		validateRequiredStringLen("first_name", req.FirstName, maxNameLen),
		validateRequiredStringLen("last_name", req.LastName, maxNameLen),
		validateEmail("email", req.Email),
		validatePhone("phone", req.Phone),
		validatePassword("password", req.Password),
	} {
		if errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
	}

	existing, err := s.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		s.logger.Error("signup: looking up email", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	}

	hash, err := database.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("signup: hashing password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user := &models.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Phone:        normalizePhone(req.Phone),
		PasswordHash: hash,
		OptInSMS:     req.OptInSMS,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		s.logger.Error("signup: creating user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.sendVerificationEmail(r, user)

	s.logger.Info("account created", "user_id", user.ID, "email", user.Email)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// sendVerificationEmail generates a signed token and emails the confirmation
// link. Failures are logged, not surfaced: the account exists either way and
// the user can request another link by logging in.
func (s *Server) sendVerificationEmail(r *http.Request, user *models.User) {
	token, _, err := middleware.GenerateEmailToken(s.jwtSecret, user.ID, user.Email)
	if err != nil {
		s.logger.Error("signup: generating email token", "error", err, "user_id", user.ID)
		return
	}

	link := s.cfg.BaseURL + "/api/v1/auth/verify-email?token=" + token
	msg := email.VerificationLinkEmail{
		To:   user.Email,
		Name: user.FirstName,
		Link: link,
	}
	if err := s.emailer.SendVerificationLink(r.Context(), msg); err != nil {
		s.logger.Warn("signup: sending verification email", "error", err, "user_id", user.ID)
	}
}

// loginRequest is the payload for POST /api/v1/auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin checks credentials and issues a session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	user, err := s.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		s.logger.Error("login: looking up email", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	ok, err := database.CheckPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	sess, err := s.loginSessions.Create(user.ID, user.Email)
	if err != nil {
		s.logger.Error("login: creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	middleware.SetSessionCookie(w, sess, s.secureCookies())
	s.logger.Info("login", "user_id", user.ID)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleLogout deletes the login session and clears cookies.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := middleware.SessionIDFromContext(r.Context()); id != "" {
		s.loginSessions.Delete(id)
	}
	middleware.ClearSessionCookie(w, s.secureCookies())
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleMe returns the authenticated user's account.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	auth := middleware.UserFromContext(r.Context())
	if auth == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), auth.ID)
	if err != nil {
		s.logger.Error("me: loading user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleVerifyEmail validates the emailed token and marks the account verified.
func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	claims, err := middleware.ParseEmailToken(s.jwtSecret, token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}

	if err := s.users.MarkVerified(r.Context(), claims.UserID); err != nil {
		s.logger.Error("verify-email: marking verified", "error", err, "user_id", claims.UserID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("email verified", "user_id", claims.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "email verified"})
}
