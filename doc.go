// Package shopauth is the session and token lifecycle core of the storefront
// backend: JWT access tokens, rotating opaque refresh tokens, and Redis-backed
// session state with refresh reuse detection.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// shopauth is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (MetricsSnapshot, SessionInfo, etc.). Transport concerns live in the sub-packages:
// httpapi serves the /auth endpoints and owns the refresh cookie contract, middleware
// guards arbitrary handlers, and client is the storefront-side gateway that refreshes
// transparently on expiry.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or token encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports shopauth (no import cycles).
//
// # Performance contract
//
// Validate is the hot path. It must not allocate beyond the returned AuthResult and
// must complete without Redis round-trips: access tokens are verified statelessly.
// Refresh, Login, Logout, and account operations are allowed one Redis round-trip
// per call (rotation is a single Lua script).
package shopauth
