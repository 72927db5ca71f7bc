package http

import (
	"net/http"

	"github.com/ibimina/authx/internal/authx/service"
)

const (
	// SessionCookie carries the post-MFA session token.
	SessionCookie = "authx_mfa"

	// TrustedCookie carries the remember-this-device token.
	TrustedCookie = "authx_trusted"
)

func setSessionCookies(w http.ResponseWriter, session service.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(service.DefaultSessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	if session.TrustedToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     TrustedCookie,
			Value:    session.TrustedToken,
			Path:     "/",
			MaxAge:   int(service.DefaultTrustedTTL.Seconds()),
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, TrustedCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
