package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/authcore/backend/internal/config"
	"github.com/authcore/backend/internal/db"
	"github.com/authcore/backend/internal/model"
	"github.com/authcore/backend/internal/service"
)

// memStore backs the handler tests: an in-memory credential store with the
// same uniqueness and rotation guarantees as the Postgres implementation.
type memStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	tokens map[string]*model.RefreshToken
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]*model.User),
		tokens: make(map[string]*model.RefreshToken),
	}
}

func (s *memStore) CreateUser(_ context.Context, name, email, passwordHash string, role model.Role) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, exists := s.users[key]; exists {
		return nil, &pgconn.PgError{Code: "23505"}
	}
	user := &model.User{ID: uuid.New(), Name: name, Email: key, PasswordHash: passwordHash, Role: role}
	s.users[key] = user
	copied := *user
	return &copied, nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (s *memStore) GetUserByID(_ context.Context, userID uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ID == userID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memStore) InsertRefreshToken(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenHash] = &model.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
		IssuedAt:  time.Now(),
		ExpiresAt: expiresAt,
	}
	return nil
}

func (s *memStore) GetRefreshTokenByHash(_ context.Context, tokenHash string) (*model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *token
	return &copied, nil
}

func (s *memStore) RotateRefreshToken(_ context.Context, oldTokenID uuid.UUID, userID uuid.UUID, newTokenHash string, newExpiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.ID != oldTokenID {
			continue
		}
		if token.RevokedAt != nil {
			return db.ErrTokenRotated
		}
		now := time.Now()
		token.RevokedAt = &now
		token.ReplacedByHash = &newTokenHash
		s.tokens[newTokenHash] = &model.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: newTokenHash,
			IssuedAt:  now,
			ExpiresAt: newExpiresAt,
		}
		return nil
	}
	return db.ErrTokenRotated
}

func (s *memStore) DeleteRefreshTokenByHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenHash)
	return nil
}

func (s *memStore) DeleteRefreshTokensByUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, token := range s.tokens {
		if token.UserID == userID {
			delete(s.tokens, hash)
		}
	}
	return nil
}

func (s *memStore) DeleteExpiredRefreshTokens(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	now := time.Now()
	for hash, token := range s.tokens {
		if !now.Before(token.ExpiresAt) {
			delete(s.tokens, hash)
			removed++
		}
	}
	return removed, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *service.AuthService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	svc, err := service.NewAuthService(store, store, config.AuthConfig{
		AccessTokenSecret: "handler-test-secret",
		AccessTokenTTL:    "15m",
		RefreshTokenTTL:   "1h",
		BcryptCost:        "4",
	})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	return NewRouter(svc, []string{"http://localhost:5173"}), svc
}

func doJSON(r *gin.Engine, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "refreshToken" {
			return cookie
		}
	}
	t.Fatal("refreshToken cookie not set")
	return nil
}

const signupBody = `{"name":"Alice Example","email":"alice@example.com","password":"correct-horse-battery"}`

func TestSignupSetsSessionAndCookie(t *testing.T) {
	r, svc := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/auth/signup", signupBody, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	cookie := refreshCookie(t, w)
	if !cookie.HttpOnly {
		t.Fatal("refresh cookie must be HttpOnly")
	}
	if cookie.Path != "/" {
		t.Fatalf("cookie path = %q, want /", cookie.Path)
	}
	if cookie.MaxAge != 3600 {
		t.Fatalf("cookie max-age = %d, want refresh TTL in seconds", cookie.MaxAge)
	}

	var resp struct {
		Success bool           `json:"success"`
		Data    model.AuthData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Data.AccessToken == "" || resp.Data.User == nil {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}

	claims, err := svc.Codec().Verify(resp.Data.AccessToken)
	if err != nil {
		t.Fatalf("access token should verify: %v", err)
	}
	if claims.Email != "alice@example.com" {
		t.Fatalf("claims email = %q", claims.Email)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	r, _ := newTestRouter(t)

	if w := doJSON(r, http.MethodPost, "/api/auth/signup", signupBody, nil); w.Code != http.StatusCreated {
		t.Fatalf("first signup: %d", w.Code)
	}
	w := doJSON(r, http.MethodPost, "/api/auth/signup",
		`{"name":"Other","email":"ALICE@example.com","password":"another-long-pass"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Email already in use") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestSignupValidationDetails(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/auth/signup",
		`{"email":"nope","password":"short"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	var resp model.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Details) == 0 {
		t.Fatalf("expected field details, got %s", w.Body.String())
	}
}

func TestLoginFailuresAreIdentical(t *testing.T) {
	r, _ := newTestRouter(t)

	if w := doJSON(r, http.MethodPost, "/api/auth/signup", signupBody, nil); w.Code != http.StatusCreated {
		t.Fatalf("signup: %d", w.Code)
	}

	wrongPass := doJSON(r, http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"wrong-password-guess"}`, nil)
	unknownEmail := doJSON(r, http.MethodPost, "/api/auth/login",
		`{"email":"unknown@example.com","password":"whatever-password"}`, nil)

	if wrongPass.Code != http.StatusBadRequest || unknownEmail.Code != http.StatusBadRequest {
		t.Fatalf("expected 400/400, got %d/%d", wrongPass.Code, unknownEmail.Code)
	}
	if wrongPass.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("payloads must match: %s vs %s", wrongPass.Body.String(), unknownEmail.Body.String())
	}
}

func TestRefreshRotatesCookie(t *testing.T) {
	r, _ := newTestRouter(t)

	signup := doJSON(r, http.MethodPost, "/api/auth/signup", signupBody, nil)
	first := refreshCookie(t, signup)

	w := doJSON(r, http.MethodPost, "/api/auth/refresh", "", func(req *http.Request) {
		req.AddCookie(first)
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	second := refreshCookie(t, w)
	if second.Value == first.Value {
		t.Fatal("refresh must rotate the cookie value")
	}

	// The old cookie is dead after rotation.
	replay := doJSON(r, http.MethodPost, "/api/auth/refresh", "", func(req *http.Request) {
		req.AddCookie(first)
	})
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replayed cookie: expected 401, got %d", replay.Code)
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/auth/refresh", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	r, _ := newTestRouter(t)

	// No cookie at all.
	w := doJSON(r, http.MethodPost, "/api/auth/logout", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if cleared := refreshCookie(t, w); cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatalf("logout must clear the cookie, got %+v", cleared)
	}

	// With a live session: the token dies and logout still reports success.
	signup := doJSON(r, http.MethodPost, "/api/auth/signup", signupBody, nil)
	cookie := refreshCookie(t, signup)

	w = doJSON(r, http.MethodPost, "/api/auth/logout", "", func(req *http.Request) {
		req.AddCookie(cookie)
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	refresh := doJSON(r, http.MethodPost, "/api/auth/refresh", "", func(req *http.Request) {
		req.AddCookie(cookie)
	})
	if refresh.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", refresh.Code)
	}

	// Logging out again with the dead cookie still succeeds.
	w = doJSON(r, http.MethodPost, "/api/auth/logout", "", func(req *http.Request) {
		req.AddCookie(cookie)
	})
	if w.Code != http.StatusOK {
		t.Fatalf("repeated logout: expected 200, got %d", w.Code)
	}
}

func TestMeRequiresBearer(t *testing.T) {
	r, _ := newTestRouter(t)

	signup := doJSON(r, http.MethodPost, "/api/auth/signup", signupBody, nil)
	var resp struct {
		Data model.AuthData `json:"data"`
	}
	if err := json.Unmarshal(signup.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode signup: %v", err)
	}

	w := doJSON(r, http.MethodGet, "/api/auth/me", "", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+resp.Data.AccessToken)
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "alice@example.com") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}

	tests := []struct {
		name   string
		mutate func(*http.Request)
	}{
		{name: "no-header", mutate: nil},
		{name: "empty-bearer", mutate: func(req *http.Request) { req.Header.Set("Authorization", "Bearer ") }},
		{name: "garbage-token", mutate: func(req *http.Request) { req.Header.Set("Authorization", "Bearer nope") }},
		{name: "wrong-scheme", mutate: func(req *http.Request) { req.Header.Set("Authorization", "Basic abc") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodGet, "/api/auth/me", "", tt.mutate)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	r, svc := newTestRouter(t)
	r.GET("/api/admin/ping", AuthMiddleware(svc.Codec()), RequireRole(model.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	signup := doJSON(r, http.MethodPost, "/api/auth/signup", signupBody, nil)
	var userResp struct {
		Data model.AuthData `json:"data"`
	}
	if err := json.Unmarshal(signup.Body.Bytes(), &userResp); err != nil {
		t.Fatalf("decode signup: %v", err)
	}

	adminSignup := doJSON(r, http.MethodPost, "/api/auth/signup",
		`{"name":"Root","email":"admin@example.com","password":"admin-long-pass","role":"Admin"}`, nil)
	var adminResp struct {
		Data model.AuthData `json:"data"`
	}
	if err := json.Unmarshal(adminSignup.Body.Bytes(), &adminResp); err != nil {
		t.Fatalf("decode admin signup: %v", err)
	}

	w := doJSON(r, http.MethodGet, "/api/admin/ping", "", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+userResp.Data.AccessToken)
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("user role: expected 403, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/admin/ping", "", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+adminResp.Data.AccessToken)
	})
	if w.Code != http.StatusOK {
		t.Fatalf("admin role: expected 200, got %d", w.Code)
	}
}

func TestUnmatchedRoute(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Not found") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
