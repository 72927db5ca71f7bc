package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/factor"
	"github.com/ibimina/authx/internal/authx/service"
	"github.com/ibimina/authx/pkg/httpx"
)

func writeError(w http.ResponseWriter, status int, code, description string) {
	httpx.WriteJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeServerError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
}

// writeServiceError maps orchestrator errors onto the wire. Verification
// failures stay generic; only rate limiting carries extra detail (retryAt).
func writeServiceError(w http.ResponseWriter, err error) {
	var limited *service.RateLimitedError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(limited.RetryAt).Seconds())+1))
		httpx.WriteJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "rate_limited",
			"retryAt": limited.RetryAt.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, service.ErrMFAAlreadyEnabled):
		writeError(w, http.StatusBadRequest, "mfa_already_enabled", "MFA is already enabled for this user")
	case errors.Is(err, service.ErrMFANotEnabled):
		writeError(w, http.StatusBadRequest, "mfa_not_enabled", "MFA is not enabled for this user")
	case errors.Is(err, service.ErrInvalidPendingToken):
		writeError(w, http.StatusBadRequest, "invalid_pending_token", "Enrollment token is invalid or expired")
	case errors.Is(err, service.ErrInvalidOrExpired):
		writeError(w, http.StatusUnprocessableEntity, "invalid_or_expired", "Code is invalid or expired")
	case errors.Is(err, service.ErrMethodNotAllowed):
		writeError(w, http.StatusBadRequest, "method_not_allowed", "Disable requires a totp or backup code")
	case errors.Is(err, domain.ErrUnknownFactor):
		writeError(w, http.StatusBadRequest, "invalid_factor", "Unknown factor")
	case errors.Is(err, factor.ErrChannelUnavailable):
		writeError(w, http.StatusServiceUnavailable, "channel_unavailable", "Delivery channel is not configured")
	case errors.Is(err, factor.ErrNotEnrolled):
		writeError(w, http.StatusBadRequest, "not_enrolled", "Factor is not enrolled")
	default:
		writeServerError(w)
	}
}
