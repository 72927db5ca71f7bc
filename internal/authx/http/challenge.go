package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/factor"
	"github.com/ibimina/authx/internal/authx/service"
	"github.com/ibimina/authx/pkg/httpx"
	"github.com/ibimina/authx/pkg/slogx"
)

// ChallengeHandler handles challenge initiation and verification.
type ChallengeHandler struct {
	MFAService     *service.MFAService
	SessionService *service.SessionService
}

type challengeInitiateRequest struct {
	Factor string `json:"factor"`
}

type challengeVerifyRequest struct {
	Factor      string          `json:"factor"`
	Token       string          `json:"token"`
	Assertion   json.RawMessage `json:"assertion,omitempty"`
	StateToken  string          `json:"stateToken,omitempty"`
	TrustDevice bool            `json:"trustDevice,omitempty"`
}

func deviceMeta(r *http.Request) service.DeviceMeta {
	return service.DeviceMeta{
		UserAgent: r.UserAgent(),
		IP:        httpx.IPKeyExtractor(r),
	}
}

// HandleInitiate handles POST /v1/mfa/challenge/initiate. A valid trusted
// device short-circuits the challenge and issues a session directly.
func (h *ChallengeHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	if cookie, err := r.Cookie(TrustedCookie); err == nil && cookie.Value != "" {
		device, err := h.SessionService.VerifyTrustedDevice(ctx, cookie.Value, deviceMeta(r))
		if err == nil && device.UserID == ident.UserID {
			session, err := h.SessionService.IssueSession(ctx, ident.UserID, []string{"trusted_device"}, false, deviceMeta(r))
			if err != nil {
				log.Error("failed to issue session for trusted device", "user_id", ident.UserID, "err", err)
				writeServerError(w)
				return
			}
			setSessionCookies(w, session)
			httpx.NoCache(w)
			httpx.WriteJSON(w, http.StatusOK, map[string]any{
				"trusted": true,
			})
			return
		}
	}

	var req challengeInitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	kind, err := domain.ParseFactorKind(req.Factor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_factor", "Unknown factor")
		return
	}

	descriptor, err := h.MFAService.InitiateChallenge(ctx, ident.UserID, ident.Email, kind, httpx.IPKeyExtractor(r))
	if err != nil {
		log.Warn("challenge initiation failed", "user_id", ident.UserID, "factor", kind.String(), "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, descriptor)
}

// HandleVerify handles POST /v1/mfa/challenge/verify.
func (h *ChallengeHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	ident, ok := httpx.IdentityFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	var req challengeVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	kind, err := domain.ParseFactorKind(req.Factor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_factor", "Unknown factor")
		return
	}

	result, err := h.MFAService.VerifyChallenge(ctx, ident.UserID, ident.Email, kind, factor.Response{
		Code:       req.Token,
		Assertion:  req.Assertion,
		StateToken: req.StateToken,
	}, req.TrustDevice, deviceMeta(r))
	if err != nil {
		log.Warn("challenge verification failed", "user_id", ident.UserID, "factor", kind.String(), "err", err)
		// A failed second factor is an authentication failure, not a
		// validation error.
		if errors.Is(err, service.ErrInvalidOrExpired) {
			writeError(w, http.StatusUnauthorized, "invalid_or_expired", "Code is invalid or expired")
			return
		}
		writeServiceError(w, err)
		return
	}

	setSessionCookies(w, result.Session)
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"factor":     result.Factor,
		"usedBackup": result.UsedBackup,
	})
}
