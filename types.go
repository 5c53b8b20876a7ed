package shopauth

import (
	"context"
	"time"
)

// AuthResult is returned by [Engine.Validate]. It contains the authenticated
// user's ID, role, and the session the access token was minted under.
type AuthResult struct {
	UserID    string
	Role      string
	SessionID string
}

// UserProvider is the primary interface that callers must implement to
// integrate shopauth with their user database. It covers credential lookup
// and account creation; everything session-related stays inside the engine.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
}

// UserRecord is the full account record returned by [UserProvider].
// PasswordHash is the PHC-encoded Argon2id hash; it never leaves the engine.
type UserRecord struct {
	UserID       string
	Identifier   string
	Name         string
	PasswordHash string
	Role         string
}

// CreateUserInput is the input for [UserProvider.CreateUser]. The engine
// fills UserID and PasswordHash; providers persist the record as-is and
// return [ErrProviderDuplicateIdentifier] on identifier collisions.
type CreateUserInput struct {
	UserID       string
	Identifier   string
	Name         string
	PasswordHash string
	Role         string
}

// CreateAccountRequest is the input for [Engine.CreateAccount].
// Identifier and Password are required; Role defaults to
// [Config.Account.DefaultRole] when empty.
type CreateAccountRequest struct {
	Identifier string
	Password   string
	Name       string
	Role       string
}

// CreateAccountResult is returned by [Engine.CreateAccount]. It includes
// the new account record and, when AutoLogin is enabled, access+refresh
// tokens for an immediately usable session.
type CreateAccountResult struct {
	User         UserRecord
	AccessToken  string
	RefreshToken string
}

// LoginResult is returned by [Engine.Login]. RefreshToken is the opaque
// blob destined for the session cookie; it is never stored server-side
// in recoverable form.
type LoginResult struct {
	User         UserRecord
	AccessToken  string
	RefreshToken string
}

// RefreshResult is returned by [Engine.Refresh]. RefreshToken carries the
// next-generation secret; the presented one is dead the moment this value
// exists.
type RefreshResult struct {
	User         UserRecord
	AccessToken  string
	RefreshToken string
}

// SessionInfo is a read-only view of one live session, returned by
// [Engine.SessionsForUser].
type SessionInfo struct {
	SessionID string
	UserID    string
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time
}
