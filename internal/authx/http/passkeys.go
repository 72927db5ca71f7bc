package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ibimina/authx/internal/authx/factor"
	"github.com/ibimina/authx/pkg/httpx"
	"github.com/ibimina/authx/pkg/slogx"
)

// PasskeysHandler handles WebAuthn credential registration.
type PasskeysHandler struct {
	Passkeys *factor.PasskeyProvider
}

type passkeyFinishRequest struct {
	StateToken  string          `json:"stateToken"`
	Attestation json.RawMessage `json:"attestation"`
	Name        string          `json:"name,omitempty"`
}

// HandleEnrollStart handles POST /v1/mfa/passkeys/enroll/start.
func (h *PasskeysHandler) HandleEnrollStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	creation, stateToken, err := h.Passkeys.BeginEnrollment(ctx, factor.Subject{UserID: ident.UserID, Email: ident.Email})
	if err != nil {
		if errors.Is(err, factor.ErrChannelUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "channel_unavailable", "Passkeys are not configured")
			return
		}
		log.Error("failed to begin passkey enrollment", "user_id", ident.UserID, "err", err)
		writeServerError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"options":    creation,
		"stateToken": stateToken,
	})
}

// HandleEnrollFinish handles POST /v1/mfa/passkeys/enroll/finish.
func (h *PasskeysHandler) HandleEnrollFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	var req passkeyFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	err := h.Passkeys.FinishEnrollment(ctx, factor.Subject{UserID: ident.UserID, Email: ident.Email}, req.StateToken, req.Attestation, req.Name)
	if err != nil {
		if errors.Is(err, factor.ErrChannelUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "channel_unavailable", "Passkeys are not configured")
			return
		}
		log.Warn("failed to finish passkey enrollment", "user_id", ident.UserID, "err", err)
		writeError(w, http.StatusBadRequest, "invalid_attestation", "Attestation was rejected")
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
