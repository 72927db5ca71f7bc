package http

import (
	"net/http"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/service"
	"github.com/ibimina/authx/pkg/httpx"
	"github.com/ibimina/authx/pkg/slogx"
)

// DevicesHandler handles trusted device listing and revocation.
type DevicesHandler struct {
	SessionService *service.SessionService
	Audit          *service.AuditRecorder
}

type deviceResponse struct {
	DeviceID   string `json:"deviceId"`
	CreatedAt  string `json:"createdAt"`
	LastUsedAt string `json:"lastUsedAt"`
}

// HandleList handles GET /v1/mfa/devices.
func (h *DevicesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	devices, err := h.SessionService.ListDevices(ctx, ident.UserID)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to list trusted devices", "user_id", ident.UserID, "err", err)
		writeServerError(w)
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{
			DeviceID:   d.DeviceID,
			CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
			LastUsedAt: d.LastUsedAt.UTC().Format(time.RFC3339),
		})
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// HandleRevoke handles DELETE /v1/mfa/devices/{id}.
func (h *DevicesHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	deviceID := r.PathValue("id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing device id")
		return
	}

	if err := h.SessionService.RevokeDevice(ctx, ident.UserID, deviceID); err != nil {
		slogx.FromContext(ctx).Error("failed to revoke trusted device", "user_id", ident.UserID, "err", err)
		writeServerError(w)
		return
	}

	h.Audit.Record(ctx, domain.AuditDeviceRevoked, ident.UserID, map[string]any{"device_id": deviceID})

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleRevokeAll handles DELETE /v1/mfa/devices.
func (h *DevicesHandler) HandleRevokeAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	if err := h.SessionService.RevokeAllDevices(ctx, ident.UserID); err != nil {
		slogx.FromContext(ctx).Error("failed to revoke trusted devices", "user_id", ident.UserID, "err", err)
		writeServerError(w)
		return
	}

	h.Audit.Record(ctx, domain.AuditDeviceRevoked, ident.UserID, map[string]any{"scope": "all"})

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
