package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID   ctxKey = "user_id"
	CtxKeyEmail    ctxKey = "email"
	CtxKeyIdentity ctxKey = "identity"
)

// IdentityFromContext returns the authenticated caller injected by
// AuthnMiddleware, or ok=false when the request was not authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(CtxKeyIdentity).(Identity)
	return v, ok
}

// UserIDFromContext is a shorthand for the authenticated subject.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUserID).(string); ok {
		return v
	}
	return ""
}
