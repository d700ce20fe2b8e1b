package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dialcheck/dialcheck/internal/config"
	"github.com/dialcheck/dialcheck/internal/database/models"
	"github.com/dialcheck/dialcheck/internal/email"
	"github.com/dialcheck/dialcheck/internal/verify"
)

// mockUserRepo is an in-memory UserRepository.
type mockUserRepo struct {
	users  map[int64]*models.User
	nextID int64
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[int64]*models.User)}
}

func (m *mockUserRepo) Create(_ context.Context, user *models.User) error {
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, emailAddr string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == emailAddr {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) Update(_ context.Context, user *models.User) error {
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) MarkVerified(_ context.Context, id int64) error {
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %d not found", id)
	}
	u.Verified = true
	return nil
}

// mockTestRepo is an in-memory SessionRepository.
type mockTestRepo struct {
	sessions map[string]*models.VerificationSession
	nextID   int64
	saveErr  error
}

func newMockTestRepo() *mockTestRepo {
	return &mockTestRepo{sessions: make(map[string]*models.VerificationSession)}
}

func (m *mockTestRepo) Create(_ context.Context, session *models.VerificationSession) error {
	for _, s := range m.sessions {
		if s.Phone == session.Phone && s.Status == models.StatusAwaitingCall {
			s.Status = models.StatusFailed
		}
	}
	m.nextID++
	session.ID = m.nextID
	if session.PublicID == "" {
		session.PublicID = fmt.Sprintf("public-%d", m.nextID)
	}
	if session.Version == 0 {
		session.Version = 1
	}
	session.CreatedAt = time.Now()
	cp := *session
	m.sessions[session.PublicID] = &cp
	return nil
}

func (m *mockTestRepo) GetActiveByPhone(_ context.Context, phone string) (*models.VerificationSession, error) {
	for _, s := range m.sessions {
		if s.Phone == phone && s.Status == models.StatusAwaitingCall {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockTestRepo) GetByPublicID(_ context.Context, publicID string) (*models.VerificationSession, error) {
	s, ok := m.sessions[publicID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockTestRepo) ListByUser(_ context.Context, userID int64, limit, offset int) ([]*models.VerificationSession, int64, error) {
	var all []*models.VerificationSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			all = append(all, &cp)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *mockTestRepo) Save(_ context.Context, session *models.VerificationSession) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.sessions[session.PublicID]
	if !ok {
		return fmt.Errorf("session %s not found", session.PublicID)
	}
	stored.Attempts = session.Attempts
	stored.Status = session.Status
	stored.LastTurnKey = session.LastTurnKey
	stored.Version++
	session.Version++
	return nil
}

func (m *mockTestRepo) DeleteExpired(_ context.Context) (int64, error) { return 0, nil }

func (m *mockTestRepo) CountByStatus(_ context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, s := range m.sessions {
		counts[s.Status]++
	}
	return counts, nil
}

// mockEmailer records sent messages.
type mockEmailer struct {
	codeWords []email.CodeWordsEmail
	links     []email.VerificationLinkEmail
	sendErr   error
}

func (m *mockEmailer) SendCodeWords(_ context.Context, msg email.CodeWordsEmail) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.codeWords = append(m.codeWords, msg)
	return nil
}

func (m *mockEmailer) SendVerificationLink(_ context.Context, msg email.VerificationLinkEmail) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.links = append(m.links, msg)
	return nil
}

// fixedGenerator always returns the same phrase.
type fixedGenerator struct {
	words []string
}

func (g *fixedGenerator) Phrase() []string {
	out := make([]string, len(g.words))
	copy(out, g.words)
	return out
}

// testEnv bundles a server and its mock collaborators.
type testEnv struct {
	server  *Server
	users   *mockUserRepo
	tests   *mockTestRepo
	emailer *mockEmailer
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newMockUserRepo()
	tests := newMockTestRepo()
	emailer := &mockEmailer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		HTTPPort:          8080,
		BaseURL:           "http://dialcheck.test",
		TwilioPhoneNumber: "+15550001111",
		MaxAttempts:       2,
		MatchTolerance:    1,
		SessionTTL:        time.Hour,
	}

	controller := verify.NewController(tests, nil, verify.ControllerConfig{
		WebhookPath: "/webhooks/voice",
		MaxAttempts: cfg.MaxAttempts,
		Tolerance:   cfg.MatchTolerance,
	}, logger)

	srv := NewServer(cfg, ServerDeps{
		Users:      users,
		Tests:      tests,
		Controller: controller,
		Generator:  &fixedGenerator{words: []string{"alpha", "bravo", "charlie", "delta", "echo"}},
		Emailer:    emailer,
		JWTSecret:  testSecret,
	}, logger)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, users: users, tests: tests, emailer: emailer}
}

// doJSON performs a JSON request against the server.
func (e *testEnv) doJSON(t *testing.T, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for _, f := range mutate {
		f(req)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// signupAndLogin creates a verified account and returns the session cookie
// and CSRF token for authenticated requests.
func (e *testEnv) signupAndLogin(t *testing.T) (*http.Cookie, string) {
	t.Helper()

	rr := e.doJSON(t, http.MethodPost, "/api/v1/auth/signup",
		`{"first_name":"Jordan","last_name":"Reed","email":"jordan@example.com","phone":"415-555-2671","password":"correct horse"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// Mark verified directly; the email token path has its own test.
	if err := e.users.MarkVerified(context.Background(), 1); err != nil {
		t.Fatalf("marking verified: %v", err)
	}

	rr = e.doJSON(t, http.MethodPost, "/api/v1/auth/login",
		`{"email":"jordan@example.com","password":"correct horse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var sessionCookie *http.Cookie
	var csrf string
	for _, c := range rr.Result().Cookies() {
		switch c.Name {
		case "dialcheck_session":
			sessionCookie = c
		case "dialcheck_csrf":
			csrf = c.Value
		}
	}
	if sessionCookie == nil || csrf == "" {
		t.Fatal("login did not set session and csrf cookies")
	}
	return sessionCookie, csrf
}

func authenticate(cookie *http.Cookie, csrf string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(cookie)
		r.Header.Set("X-CSRF-Token", csrf)
	}
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %T", env.Data)
	}
	return data
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doJSON(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := decodeData(t, rr)
	if data["status"] != "ok" {
		t.Errorf("expected status ok, got %v", data["status"])
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/tests"},
		{http.MethodGet, "/api/v1/tests"},
		{http.MethodGet, "/api/v1/tests/some-id"},
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodPost, "/api/v1/auth/logout"},
	} {
		rr := env.doJSON(t, tc.method, tc.path, "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tc.method, tc.path, rr.Code)
		}
	}
}
