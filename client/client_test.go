package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAuthServer simulates the storefront auth surface: /auth/token mints a
// new access token and everything under /api requires the current one.
type fakeAuthServer struct {
	mu           sync.Mutex
	currentToken string
	refreshCalls int64
	refreshFails bool
	refreshGate  chan struct{} // when set, refresh blocks until closed
}

func newFakeAuthServer() *fakeAuthServer {
	return &fakeAuthServer{currentToken: "tok-0"}
}

func (f *fakeAuthServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/token", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&f.refreshCalls, 1)
		if f.refreshGate != nil {
			<-f.refreshGate
		}
		if f.refreshFails {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "session expired"})
			return
		}

		f.mu.Lock()
		f.currentToken = fmt.Sprintf("tok-%d", n)
		token := f.currentToken
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"accessToken": token,
			"user":        map[string]string{"id": "u-1", "email": "a@example.com"},
		})
	})

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "correct-horse" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "invalid credentials"})
			return
		}
		f.mu.Lock()
		token := f.currentToken
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"accessToken": token,
			"user":        map[string]string{"id": "u-1", "email": body.Email},
		})
	})

	mux.HandleFunc("GET /api/orders", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		token := f.currentToken
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	return mux
}

func (f *fakeAuthServer) refreshCount() int64 {
	return atomic.LoadInt64(&f.refreshCalls)
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := New(baseURL, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestDoRefreshesOn401AndReplays(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Login(context.Background(), "a@example.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// Invalidate the client's token server-side.
	fake.mu.Lock()
	fake.currentToken = "tok-rotated"
	fake.mu.Unlock()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/orders", nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected replayed 200, got %d", resp.StatusCode)
	}
	if fake.refreshCount() != 1 {
		t.Fatalf("expected exactly one refresh, got %d", fake.refreshCount())
	}
	if c.AccessToken() == "" {
		t.Fatal("gateway must hold the refreshed token")
	}
}

func TestConcurrent401sSingleFlight(t *testing.T) {
	fake := newFakeAuthServer()
	fake.refreshGate = make(chan struct{})
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Login(context.Background(), "a@example.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}

	fake.mu.Lock()
	fake.currentToken = "tok-rotated"
	fake.mu.Unlock()

	// Hold the refresh open until all three callers have observed their 401
	// and queued behind it.
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(fake.refreshGate)
	}()

	const callers = 3
	var wg sync.WaitGroup
	wg.Add(callers)
	statuses := make(chan int, callers)
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/orders", nil)
			resp, err := c.Do(req)
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}

	wg.Wait()
	close(statuses)
	close(errs)

	for err := range errs {
		t.Fatalf("caller failed: %v", err)
	}
	settled := 0
	for status := range statuses {
		if status != http.StatusOK {
			t.Fatalf("expected 200 after replay, got %d", status)
		}
		settled++
	}
	if settled != callers {
		t.Fatalf("every caller must settle: got %d of %d", settled, callers)
	}
	if fake.refreshCount() != 1 {
		t.Fatalf("expected exactly one refresh for %d callers, got %d", callers, fake.refreshCount())
	}
}

func TestFailedRefreshForcesLogout(t *testing.T) {
	fake := newFakeAuthServer()
	fake.refreshFails = true
	fake.refreshGate = make(chan struct{})
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	var hookCalls int64
	c := newTestClient(t, srv.URL, WithOnSessionExpired(func() {
		atomic.AddInt64(&hookCalls, 1)
	}))
	if _, err := c.Login(context.Background(), "a@example.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}

	fake.mu.Lock()
	fake.currentToken = "tok-rotated"
	fake.mu.Unlock()

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(fake.refreshGate)
	}()

	const callers = 3
	var wg sync.WaitGroup
	wg.Add(callers)
	results := make(chan error, callers)

	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/orders", nil)
			_, err := c.Do(req)
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	for err := range results {
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("every queued caller must reject with ErrSessionExpired, got %v", err)
		}
	}
	if got := atomic.LoadInt64(&hookCalls); got != 1 {
		t.Fatalf("expiry hook must fire exactly once, fired %d times", got)
	}
	if c.AccessToken() != "" {
		t.Fatal("forced logout must clear the access token")
	}
}

func TestNon401PassesThrough(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/broken", nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 passthrough, got %d", resp.StatusCode)
	}
	if fake.refreshCount() != 0 {
		t.Fatalf("non-401 must not trigger refresh, got %d", fake.refreshCount())
	}
}

func TestLoginFailureIsTerminal(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background(), "a@example.com", "wrong-password")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected terminal unauthorized, got %v", err)
	}
	if fake.refreshCount() != 0 {
		t.Fatalf("login 401 must never trigger refresh, got %d", fake.refreshCount())
	}
}

func TestConcurrentForcedLogoutsSafe(t *testing.T) {
	fake := newFakeAuthServer()
	fake.refreshFails = true
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithOnSessionExpired(func() {}))
	if _, err := c.Login(context.Background(), "a@example.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}

	fake.mu.Lock()
	fake.currentToken = "tok-rotated"
	fake.mu.Unlock()

	// Every request 401s and every refresh fails, so each loop iteration
	// drives a teardown while other goroutines are mid-flight. Run with
	// the race detector: the session state swap must stay synchronized
	// with concurrent sends.
	const callers = 8
	var wg sync.WaitGroup
	wg.Add(callers)
	var unexpected int64
	for i := 0; i < callers; i++ {
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/orders", nil)
				if _, err := c.Do(req); !errors.Is(err, ErrSessionExpired) {
					atomic.AddInt64(&unexpected, 1)
				}
				if n == 0 && j%5 == 0 {
					_ = c.Logout(context.Background())
				}
			}
		}(i)
	}
	wg.Wait()

	if unexpected != 0 {
		t.Fatalf("expected every caller to settle with ErrSessionExpired, %d did not", unexpected)
	}
	if c.AccessToken() != "" {
		t.Fatal("access token must stay cleared after teardown")
	}
}

func TestGatewayAgainstRotatingServerUnderLoad(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Login(context.Background(), "a@example.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// Rotate the server token repeatedly while callers hammer the guarded
	// endpoint; every caller must settle without lost wake-ups.
	stop := make(chan struct{})
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				fake.mu.Lock()
				fake.currentToken = fmt.Sprintf("tok-forced-%d", i)
				fake.mu.Unlock()
			}
		}
	}()

	const callers = 16
	var wg sync.WaitGroup
	wg.Add(callers)
	var failures int64
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/orders", nil)
				resp, err := c.Do(req)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()
	close(stop)

	if failures != 0 {
		t.Fatalf("expected all callers to settle, got %d failures", failures)
	}
}
