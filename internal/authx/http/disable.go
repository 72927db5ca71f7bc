package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/service"
	"github.com/ibimina/authx/pkg/httpx"
	"github.com/ibimina/authx/pkg/slogx"
)

// DisableHandler handles DELETE /v1/mfa.
type DisableHandler struct {
	MFAService *service.MFAService
}

type disableRequest struct {
	Token  string `json:"token"`
	Method string `json:"method"`
}

func (h *DisableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	var req disableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	method := domain.FactorTOTP
	if req.Method != "" {
		parsed, err := domain.ParseFactorKind(req.Method)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_factor", "Unknown factor")
			return
		}
		method = parsed
	}

	if err := h.MFAService.Disable(ctx, ident.UserID, req.Token, method); err != nil {
		log.Warn("MFA disable failed", "user_id", ident.UserID, "err", err)
		// A wrong disable code is an authentication failure, like a
		// failed challenge.
		if errors.Is(err, service.ErrInvalidOrExpired) {
			writeError(w, http.StatusUnauthorized, "invalid_or_expired", "Code is invalid or expired")
			return
		}
		writeServiceError(w, err)
		return
	}

	clearSessionCookies(w)
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
