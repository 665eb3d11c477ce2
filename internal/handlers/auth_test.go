package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/campusfriends/backend/internal/auth"
	"github.com/campusfriends/backend/internal/models"
	"github.com/campusfriends/backend/internal/repositories"
)

const testSecret = "handlers-test-secret"

type inMemoryUserStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newInMemoryUserStore() *inMemoryUserStore {
	return &inMemoryUserStore{users: make(map[string]models.User)}
}

func (s *inMemoryUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email || existing.Username == user.Username {
			return repositories.ErrConflict
		}
	}
	s.users[user.Email] = user
	return nil
}

func (s *inMemoryUserStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[email]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newTestManager() *auth.Manager {
	return auth.NewManager(testSecret, time.Minute, time.Hour, auth.NewInMemorySessionStore())
}

func postJSON(t *testing.T, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
}

func TestAuthHandlerSignUp(t *testing.T) {
	store := newInMemoryUserStore()
	manager := newTestManager()
	handler := AuthHandler{Users: store, Sessions: manager}

	req := postJSON(t, "/api/v1/auth/signup", signUpRequest{
		Email:    "Test@Example.com",
		Username: "tester",
		FullName: "Test Student",
		Password: "supersafe",
	})
	rec := httptest.NewRecorder()

	handler.SignUp(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d got %d", http.StatusCreated, rec.Code)
	}

	var resp authResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued, got %+v", resp.Tokens)
	}

	stored, err := store.FindByEmail(context.Background(), "test@example.com")
	if err != nil {
		t.Fatalf("expected user to be stored: %v", err)
	}
	if stored.ID != resp.UserID {
		t.Fatalf("expected response user id %s got %s", stored.ID, resp.UserID)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("supersafe")) != nil {
		t.Fatal("stored password is not hashed")
	}

	userID, err := manager.Verify(resp.Tokens.AccessToken)
	if err != nil || userID != stored.ID {
		t.Fatalf("expected access token for %s, got %s (%v)", stored.ID, userID, err)
	}
}

func TestAuthHandlerSignUpValidation(t *testing.T) {
	store := newInMemoryUserStore()
	handler := AuthHandler{Users: store, Sessions: newTestManager()}
	store.users["taken@example.com"] = models.User{ID: "user-1", Email: "taken@example.com", Username: "taken"}

	cases := []struct {
		name   string
		req    signUpRequest
		status int
	}{
		{name: "missingUsername", req: signUpRequest{Email: "a@example.com", Password: "password123"}, status: http.StatusBadRequest},
		{name: "badEmail", req: signUpRequest{Email: "nope", Username: "nope", Password: "password123"}, status: http.StatusBadRequest},
		{name: "badUsername", req: signUpRequest{Email: "b@example.com", Username: "has space", Password: "password123"}, status: http.StatusBadRequest},
		{name: "shortPassword", req: signUpRequest{Email: "c@example.com", Username: "c", Password: "short"}, status: http.StatusBadRequest},
		{name: "existingEmail", req: signUpRequest{Email: "taken@example.com", Username: "fresh", Password: "password123"}, status: http.StatusConflict},
		{name: "existingUsername", req: signUpRequest{Email: "d@example.com", Username: "taken", Password: "password123"}, status: http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.SignUp(rec, postJSON(t, "/api/v1/auth/signup", tc.req))
			if rec.Code != tc.status {
				t.Fatalf("expected status %d got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestAuthHandlerLogin(t *testing.T) {
	store := newInMemoryUserStore()
	handler := AuthHandler{Users: store, Sessions: newTestManager()}

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store.users["login@example.com"] = models.User{ID: "user-1", Email: "login@example.com", Password: string(hashed)}

	rec := httptest.NewRecorder()
	handler.Login(rec, postJSON(t, "/api/v1/auth/login", loginRequest{Email: "login@example.com", Password: "password123"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
	}

	var resp authResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued, got %+v", resp.Tokens)
	}

	rec = httptest.NewRecorder()
	handler.Login(rec, postJSON(t, "/api/v1/auth/login", loginRequest{Email: "login@example.com", Password: "wrong-password"}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d for bad password got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAuthHandlerLoginRateLimited(t *testing.T) {
	handler := AuthHandler{Users: newInMemoryUserStore(), Sessions: newTestManager(), Limiter: denyAll{}}

	rec := httptest.NewRecorder()
	handler.Login(rec, postJSON(t, "/api/v1/auth/login", loginRequest{Email: "a@example.com", Password: "password123"}))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d got %d", http.StatusTooManyRequests, rec.Code)
	}
}

func TestAuthHandlerRefresh(t *testing.T) {
	manager := newTestManager()
	tokens, err := manager.Issue(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}

	handler := AuthHandler{Sessions: manager}

	rec := httptest.NewRecorder()
	handler.Refresh(rec, postJSON(t, "/api/v1/auth/refresh", refreshRequest{RefreshToken: tokens.RefreshToken}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
	}

	var resp authResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Tokens.RefreshToken == tokens.RefreshToken {
		t.Fatal("expected a new refresh token to be issued")
	}

	rec = httptest.NewRecorder()
	handler.Refresh(rec, postJSON(t, "/api/v1/auth/refresh", refreshRequest{RefreshToken: tokens.RefreshToken}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected rotated token to be rejected, got %d", rec.Code)
	}
}
