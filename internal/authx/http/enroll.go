package http

import (
	"encoding/json"
	"net/http"

	"github.com/ibimina/authx/internal/authx/service"
	"github.com/ibimina/authx/pkg/httpx"
	"github.com/ibimina/authx/pkg/slogx"
)

// EnrollHandler handles TOTP enrollment start and confirmation.
type EnrollHandler struct {
	MFAService *service.MFAService
}

type enrollConfirmRequest struct {
	PendingToken string `json:"pendingToken"`
	Code1        string `json:"code1"`
	Code2        string `json:"code2"`
}

// HandleStart handles POST /v1/mfa/enroll/start.
func (h *EnrollHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	start, err := h.MFAService.StartEnrollment(ctx, ident.UserID, ident.Email)
	if err != nil {
		log.Warn("enrollment start failed", "user_id", ident.UserID, "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"otpauthUri":    start.OtpauthURI,
		"secretPreview": start.SecretPreview,
		"pendingToken":  start.PendingToken,
	})
}

// HandleConfirm handles POST /v1/mfa/enroll/confirm. The backup codes in
// the response are shown exactly once.
func (h *EnrollHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	var req enrollConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	backupCodes, err := h.MFAService.ConfirmEnrollment(ctx, ident.UserID, req.PendingToken, req.Code1, req.Code2)
	if err != nil {
		log.Warn("enrollment confirm failed", "user_id", ident.UserID, "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"backupCodes": backupCodes,
	})
}
