// Package internal contains helper utilities that are intentionally private to shopauth,
// including secure random generation and refresh token encoding.
//
// # Sub-packages
//
//   - rate — core Redis-backed rate limit primitives
//
// # What this package must NOT do
//
//   - Export types that appear in the public shopauth API.
//   - Be imported by any package outside the shopauth module.
package internal
