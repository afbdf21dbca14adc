/**
 * @description
 * HTTP middleware for the raffle-service API. Admin endpoints are guarded by
 * a shared internal API key; the admin console sends it on every request.
 */
package api

import (
	"net/http"
)

// InternalAuthMiddleware validates the internal API key for admin calls.
// An empty required key disables the check, which is only acceptable for
// local development.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || provided != requiredKey {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
