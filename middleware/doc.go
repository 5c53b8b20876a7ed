// Package middleware exposes HTTP middleware adapters for bearer-token
// authorization built on top of shopauth.Engine validation.
//
// # Guards
//
//   - [Guard] — stateless JWT verification, no Redis call.
//   - [RequireRole] — Guard plus a role check, rejecting with 403.
//
// Each guard reads the Authorization header, calls Engine.Validate, and injects
// the validated result into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself — all decisions are delegated to Engine.Validate.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject from Engine.Validate
//     and the declared role requirement.
package middleware
