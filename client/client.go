package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Exported sentinel errors surfaced by the gateway.
var (
	// ErrSessionExpired reports that a refresh cycle failed and the local
	// session was torn down. The caller must authenticate again.
	ErrSessionExpired = errors.New("client: session expired")

	// ErrUnauthorized reports a terminal credential failure from login or
	// register. It never triggers a refresh.
	ErrUnauthorized = errors.New("client: unauthorized")

	// ErrNotReplayable reports that a request observed a 401 but its body
	// cannot be rewound for replay after the refresh.
	ErrNotReplayable = errors.New("client: request body not replayable")
)

const (
	pathLogin    = "/auth/login"
	pathRegister = "/auth/register"
	pathToken    = "/auth/token"
	pathLogout   = "/auth/logout"
	pathUser     = "/auth/user"
)

// User is the account payload returned by the auth endpoints.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

type authEnvelope struct {
	Success     bool   `json:"success"`
	User        *User  `json:"user,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Option defines a public type used by shopauth APIs.
//
// Option instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport. The gateway installs
// its own cookie jar on the provided client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpc = hc
	}
}

// WithOnSessionExpired registers a hook fired once per failed refresh
// cycle, after local session state has been cleared.
func WithOnSessionExpired(fn func()) Option {
	return func(c *Client) {
		c.onExpired = fn
	}
}

// Client defines a public type used by shopauth APIs.
//
// Client instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Client struct {
	baseURL   *url.URL
	onExpired func()

	// mu guards the gateway's shared session state: the access token and
	// the HTTP client whose jar holds the refresh cookie. The client is
	// never mutated in place; teardown swaps in a rebuilt copy so requests
	// already in flight keep the old jar.
	mu     sync.RWMutex
	httpc  *http.Client
	access string

	refreshGroup singleflight.Group
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %v", err)
	}

	c := &Client{
		baseURL: u,
		httpc:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c.httpc.Jar = jar

	return c, nil
}

// AccessToken returns the access token currently held by the gateway.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

func (c *Client) setAccess(token string) {
	c.mu.Lock()
	c.access = token
	c.mu.Unlock()
}

func (c *Client) httpClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpc
}

// resetSession clears the access token and drops the refresh cookie by
// swapping in a copy of the HTTP client built around a fresh jar.
func (c *Client) resetSession() {
	jar, err := cookiejar.New(nil)

	c.mu.Lock()
	c.access = ""
	if err == nil {
		next := *c.httpc
		next.Jar = jar
		c.httpc = &next
	}
	c.mu.Unlock()
}

// Do sends req with the current access token attached. On a 401 from a
// non-auth endpoint it performs the single-flight refresh and replays the
// request once with the refreshed token. Any other response passes through
// unchanged.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.send(req, c.AccessToken())
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || c.isAuthPath(req.URL.Path) {
		return resp, nil
	}

	// The response body is consumed before replay so the connection can be
	// reused.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	replay, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}

	token, err := c.refresh(req.Context())
	if err != nil {
		return nil, err
	}

	return c.send(replay, token)
}

func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.httpClient().Do(req)
}

// refresh coalesces concurrent callers onto one GET /auth/token round-trip.
// Exactly one goroutine executes the function; every waiter receives the
// same outcome, so a failed cycle fires the expiry hook once.
func (c *Client) refresh(ctx context.Context) (string, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		env, status, err := c.authRequest(ctx, http.MethodGet, pathToken, nil)
		if err != nil || status != http.StatusOK {
			c.teardown()
			return nil, ErrSessionExpired
		}
		c.setAccess(env.AccessToken)
		return env.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// teardown clears all local session state. The server-side session is
// already gone; the hook fires after the state swap so it observes the
// logged-out gateway.
func (c *Client) teardown() {
	c.resetSession()
	if c.onExpired != nil {
		c.onExpired()
	}
}

// Login authenticates and primes the gateway with a fresh token pair. A
// 401 here is terminal and returns ErrUnauthorized.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	env, status, err := c.authRequest(ctx, http.MethodPost, pathLogin, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, env.Message)
	}

	c.setAccess(env.AccessToken)
	return env.User, nil
}

// Register creates an account. When the server auto-logs the account in,
// the returned token pair primes the gateway the same way Login does.
func (c *Client) Register(ctx context.Context, email, password, name string) (*User, error) {
	env, status, err := c.authRequest(ctx, http.MethodPost, pathRegister, map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, env.Message)
	}

	if env.AccessToken != "" {
		c.setAccess(env.AccessToken)
	}
	return env.User, nil
}

// Logout revokes the server-side session and clears local state. Local
// state is cleared even when the network call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, _, err := c.authRequest(ctx, http.MethodGet, pathLogout, nil)

	c.resetSession()

	return err
}

// CurrentUser fetches the authenticated account via the guarded endpoint.
// It goes through Do, so an expired access token is refreshed transparently.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(pathUser), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env authEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || env.User == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, env.Message)
	}
	return env.User, nil
}

// authRequest performs one JSON round-trip against an auth endpoint. Auth
// endpoints never recurse into Do: their 401s are terminal.
func (c *Client) authRequest(ctx context.Context, method, path string, body map[string]string) (*authEnvelope, int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var env authEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, resp.StatusCode, err
	}
	return &env, resp.StatusCode, nil
}

func (c *Client) resolve(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) isAuthPath(path string) bool {
	switch {
	case strings.HasSuffix(path, pathLogin),
		strings.HasSuffix(path, pathRegister),
		strings.HasSuffix(path, pathToken),
		strings.HasSuffix(path, pathLogout):
		return true
	default:
		return false
	}
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	replay := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return replay, nil
	}
	if req.GetBody == nil {
		return nil, ErrNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	replay.Body = body
	return replay, nil
}
