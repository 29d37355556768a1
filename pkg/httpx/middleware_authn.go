package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/KasunCSB/University-Information-System-sub001/pkg/jwtx"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
)

// RevocationChecker reports whether a raw token has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) bool
}

// AuthnMiddleware requires a valid, unrevoked bearer access token. Every
// rejection looks the same to the client.
func AuthnMiddleware(v jwtx.Verifier, revoked RevocationChecker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := bearerToken(r)
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				log.Debug("access token rejected", "err", err)
				writeBearerError(w, "invalid or expired token")
				return
			}

			if revoked != nil && revoked.IsRevoked(ctx, raw) {
				log.Debug("revoked access token presented", "sub", claims.Subject)
				writeBearerError(w, "invalid or expired token")
				return
			}

			ctx = slogx.WithSubject(contextWithAuth(ctx, claims), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, raw, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// RFC 6750 error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteJSON(w, http.StatusUnauthorized, ErrorBody{Error: "invalid_token", Message: desc})
}
