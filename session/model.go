package session

// Session defines a public type used by shopauth APIs.
//
// Session instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Session struct {
	SessionID string
	UserID    string

	Role string

	RefreshHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
