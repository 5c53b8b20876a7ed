package internaldefs

import (
	shopauth "github.com/MrEthical07/shopauth"
)

// CounterDef defines a public type used by shopauth APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   shopauth.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by shopauth APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   shopauth.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the authentication engine.
var CounterDefs = []CounterDef{
	{ID: shopauth.MetricLoginSuccess, Name: "shopauth_login_success_total", Help: "Successful login attempts."},
	{ID: shopauth.MetricLoginFailure, Name: "shopauth_login_failure_total", Help: "Failed login attempts."},
	{ID: shopauth.MetricLoginRateLimited, Name: "shopauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: shopauth.MetricRefreshSuccess, Name: "shopauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: shopauth.MetricRefreshFailure, Name: "shopauth_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: shopauth.MetricRefreshReuseDetected, Name: "shopauth_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: shopauth.MetricRefreshRateLimited, Name: "shopauth_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: shopauth.MetricSessionCreated, Name: "shopauth_session_created_total", Help: "Created sessions."},
	{ID: shopauth.MetricSessionInvalidated, Name: "shopauth_session_invalidated_total", Help: "Invalidated sessions."},
	{ID: shopauth.MetricLogout, Name: "shopauth_logout_total", Help: "Single-session logout operations."},
	{ID: shopauth.MetricLogoutAll, Name: "shopauth_logout_all_total", Help: "Logout-all operations."},
	{ID: shopauth.MetricAccountCreationSuccess, Name: "shopauth_account_creation_success_total", Help: "Successful account creations."},
	{ID: shopauth.MetricAccountCreationDuplicate, Name: "shopauth_account_creation_duplicate_total", Help: "Account creation attempts rejected as duplicate."},
}

// HistogramDefs is an exported constant or variable used by the authentication engine.
var HistogramDefs = []HistogramDef{
	{ID: shopauth.MetricValidateLatency, Name: "shopauth_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the authentication engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the authentication engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
