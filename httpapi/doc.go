// Package httpapi exposes the storefront authentication endpoints over
// net/http.
//
// The package owns the refresh-cookie contract: the opaque refresh token
// travels only in an HttpOnly SameSite cookie scoped to the auth path, and
// every failed rotation clears that cookie so a browser can never get stuck
// presenting a dead session. Access tokens are returned in JSON bodies and
// carried back by callers in the Authorization header.
//
// Routes registered by Handler:
//
//	POST /auth/login     credential login, sets the refresh cookie
//	POST /auth/register  account creation (201), optional auto-login cookie
//	GET  /auth/token     rotates the refresh cookie, returns a new access token
//	GET  /auth/logout    revokes the presented session, always 200
//	GET  /auth/user      returns the authenticated user (Bearer token)
package httpapi
