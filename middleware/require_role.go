package middleware

import (
	"net/http"

	"github.com/MrEthical07/shopauth"
)

// RequireRole wraps [Guard] with a role check. Requests that authenticate
// but carry a different role are rejected with 403 rather than 401.
func RequireRole(engine *shopauth.Engine, role string) func(http.Handler) http.Handler {
	guard := Guard(engine)

	return func(next http.Handler) http.Handler {
		return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok || res.Role != role {
				http.Error(w, shopauth.ErrPermissionDenied.Error(), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}))
	}
}
