package http

import (
	"net/http"

	"github.com/ibimina/authx/internal/authx/service"
	"github.com/ibimina/authx/pkg/httpx"
	"github.com/ibimina/authx/pkg/slogx"
)

// ChannelsHandler handles GET /v1/mfa/channels.
type ChannelsHandler struct {
	MFAService *service.MFAService
}

func (h *ChannelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	summary, err := h.MFAService.Channels(ctx, ident.UserID)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to load channels summary", "user_id", ident.UserID, "err", err)
		writeServerError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, summary)
}
