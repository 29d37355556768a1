package httpx

import (
	"net/http"
	"slices"
)

// RequireRole lets the request through when the caller holds one of roles.
func RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, roleFromCtx(r.Context())) {
				WriteJSON(w, http.StatusForbidden, ErrorBody{Error: "forbidden", Message: "insufficient role"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireVerifiedEmail rejects callers whose access token says the email
// address has not been confirmed yet.
func RequireVerifiedEmail() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := ClaimsFromContext(r.Context())
			if !ok || !c.IsEmailVerified {
				WriteJSON(w, http.StatusForbidden, ErrorBody{Error: "email_not_verified", Message: "verify your email address first"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
