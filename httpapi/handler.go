package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	shopauth "github.com/MrEthical07/shopauth"
	"github.com/MrEthical07/shopauth/middleware"
)

// Handler defines a public type used by shopauth APIs.
//
// Handler instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Handler struct {
	engine     *shopauth.Engine
	cookie     shopauth.CookieConfig
	refreshTTL time.Duration
}

// NewHandler describes the newhandler operation and its observable behavior.
//
// NewHandler may return an error when input validation, dependency calls, or security checks fail.
// NewHandler does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewHandler(engine *shopauth.Engine) *Handler {
	cfg := engine.Config()
	return &Handler{
		engine:     engine,
		cookie:     cfg.Cookie,
		refreshTTL: cfg.JWT.RefreshTTL,
	}
}

// Register attaches the auth routes to mux using method-qualified patterns.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("GET /auth/token", h.handleToken)
	mux.HandleFunc("GET /auth/logout", h.handleLogout)
	mux.Handle("GET /auth/user", middleware.Guard(h.engine)(http.HandlerFunc(h.handleUser)))
}

// Routes returns a ServeMux with all auth routes registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

type authResponse struct {
	Success     bool         `json:"success"`
	User        *userPayload `json:"user,omitempty"`
	AccessToken string       `json:"accessToken,omitempty"`
	Message     string       `json:"message,omitempty"`
}

func toUserPayload(u shopauth.UserRecord) *userPayload {
	return &userPayload{
		ID:    u.UserID,
		Email: u.Identifier,
		Name:  u.Name,
		Role:  u.Role,
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.Login(requestContext(r), body.Email, body.Password)
	if err != nil {
		writeError(w, loginStatus(err), "invalid credentials")
		return
	}

	h.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, authResponse{
		Success:     true,
		User:        toUserPayload(result.User),
		AccessToken: result.AccessToken,
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.CreateAccount(requestContext(r), shopauth.CreateAccountRequest{
		Identifier: body.Email,
		Password:   body.Password,
		Name:       body.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, shopauth.ErrAccountExists):
			writeError(w, http.StatusConflict, "account already exists")
		case errors.Is(err, shopauth.ErrAccountCreationInvalid):
			writeError(w, http.StatusBadRequest, "invalid registration request")
		case errors.Is(err, shopauth.ErrAccountCreationDisabled):
			writeError(w, http.StatusForbidden, "registration disabled")
		default:
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	if result.RefreshToken != "" {
		h.setRefreshCookie(w, result.RefreshToken)
	}
	writeJSON(w, http.StatusCreated, authResponse{
		Success:     true,
		User:        toUserPayload(result.User),
		AccessToken: result.AccessToken,
	})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.cookie.Name)
	if err != nil || cookie.Value == "" {
		h.clearRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	result, err := h.engine.Refresh(requestContext(r), cookie.Value)
	if err != nil {
		// Rotation failure has no partial-success state: the cookie is
		// always cleared so the client cannot replay a dead session.
		h.clearRefreshCookie(w)
		status := http.StatusUnauthorized
		if errors.Is(err, shopauth.ErrRefreshRateLimited) {
			status = http.StatusTooManyRequests
		}
		writeError(w, status, "session expired")
		return
	}

	h.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, authResponse{
		Success:     true,
		User:        toUserPayload(result.User),
		AccessToken: result.AccessToken,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookie.Name); err == nil && cookie.Value != "" {
		// Best-effort revocation. Logout reports success regardless so the
		// client can always clear its local state.
		_ = h.engine.LogoutByRefreshToken(requestContext(r), cookie.Value)
	}

	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		Message: "logged out",
	})
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.engine.GetUser(r.Context(), auth.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		User:    toUserPayload(user),
	})
}

func loginStatus(err error) int {
	switch {
	case errors.Is(err, shopauth.ErrLoginRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, shopauth.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   int(h.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	})
}

func requestContext(r *http.Request) context.Context {
	ctx := r.Context()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = shopauth.WithClientIP(ctx, host)
	ctx = shopauth.WithUserAgent(ctx, r.UserAgent())

	return ctx
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, authResponse{Success: false, Message: message})
}
