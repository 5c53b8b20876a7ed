// Package client implements the storefront's request gateway: an HTTP
// client wrapper that owns the access token, keeps the refresh cookie in a
// private jar, and makes token expiry invisible to callers.
//
// When a request comes back 401 the gateway coalesces all concurrent
// observers onto a single refresh round-trip (x/sync singleflight), then
// each caller replays its original request with whatever access token is
// current. A failed refresh tears local session state down, fires the
// OnSessionExpired hook once, and rejects every coalesced caller with
// ErrSessionExpired. Login and register failures are terminal and never
// trigger a refresh.
package client
