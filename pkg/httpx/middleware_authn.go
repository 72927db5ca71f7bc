package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ibimina/authx/pkg/slogx"
	"github.com/ibimina/authx/pkg/tokenx"
)

// Identity is the verified caller extracted from a login token. The login
// token is minted by the upstream password step; it proves first-factor
// authentication only.
type Identity struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
}

// AuthnMiddleware verifies the bearer login token and injects the caller's
// identity into the request context.
func AuthnMiddleware(codec *tokenx.Codec) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))

			ident, err := tokenx.Verify[Identity](codec, tokenx.PurposeLogin, raw)
			if err != nil {
				writeBearerError(w, "token verification failed")
				log.Warn("login token verify failed", "err", err)
				return
			}
			if ident.UserID == "" {
				writeBearerError(w, "token missing subject")
				return
			}

			// Inject into context for downstream handlers.
			ctx = contextWithIdentity(ctx, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contextWithIdentity(ctx context.Context, ident Identity) context.Context {
	ctx = context.WithValue(ctx, CtxKeyUserID, ident.UserID)
	ctx = context.WithValue(ctx, CtxKeyEmail, ident.Email)
	ctx = context.WithValue(ctx, CtxKeyIdentity, ident)
	return ctx
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	w.WriteHeader(http.StatusUnauthorized)
}
