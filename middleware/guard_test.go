package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	shopauth "github.com/MrEthical07/shopauth"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type staticProvider struct {
	mu    sync.RWMutex
	users map[string]shopauth.UserRecord
}

func (p *staticProvider) GetUserByIdentifier(_ context.Context, identifier string) (shopauth.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.users {
		if u.Identifier == identifier {
			return u, nil
		}
	}
	return shopauth.UserRecord{}, shopauth.ErrUserNotFound
}

func (p *staticProvider) GetUserByID(_ context.Context, userID string) (shopauth.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[userID]
	if !ok {
		return shopauth.UserRecord{}, shopauth.ErrUserNotFound
	}
	return u, nil
}

func (p *staticProvider) CreateUser(_ context.Context, input shopauth.CreateUserInput) (shopauth.UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := shopauth.UserRecord{
		UserID:       input.UserID,
		Identifier:   input.Identifier,
		Name:         input.Name,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
	}
	p.users[u.UserID] = u
	return u, nil
}

func newGuardTestEngine(t *testing.T) *shopauth.Engine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := shopauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := shopauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(&staticProvider{users: map[string]shopauth.UserRecord{}}).
		Build()
	if err != nil {
		t.Fatalf("engine build: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine
}

func accessTokenFor(t *testing.T, engine *shopauth.Engine, email string) string {
	t.Helper()
	result, err := engine.CreateAccount(context.Background(), shopauth.CreateAccountRequest{
		Identifier: email,
		Password:   "correct-horse",
		Role:       "admin",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return result.AccessToken
}

func TestGuardRejectsMissingAndMalformedHeader(t *testing.T) {
	engine := newGuardTestEngine(t)

	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"no bearer prefix", "Token abc"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestGuardInjectsAuthResult(t *testing.T) {
	engine := newGuardTestEngine(t)
	token := accessTokenFor(t, engine, "alice@example.com")

	var seen *shopauth.AuthResult
	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := AuthResultFromContext(r.Context())
		if !ok {
			t.Fatal("auth result missing from context")
		}
		seen = res
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.Role != "admin" || seen.UserID == "" || seen.SessionID == "" {
		t.Fatalf("unexpected auth result: %+v", seen)
	}
}

func TestRequireRoleForbidsWrongRole(t *testing.T) {
	engine := newGuardTestEngine(t)
	adminToken := accessTokenFor(t, engine, "admin@example.com")

	customer, err := engine.CreateAccount(context.Background(), shopauth.CreateAccountRequest{
		Identifier: "shopper@example.com",
		Password:   "correct-horse",
		Role:       "customer",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	handler := RequireRole(engine, "admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Authenticated but under-privileged: 403, never 401.
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+customer.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != shopauth.ErrPermissionDenied.Error() {
		t.Fatalf("expected permission denied body, got %q", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// Unauthenticated stays 401.
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
