package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ibimina/authx/internal/authx/factor"
	"github.com/ibimina/authx/internal/authx/service"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/httpx"
	"github.com/ibimina/authx/pkg/slogx"
	"github.com/ibimina/authx/pkg/tokenx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	codec        *tokenx.Codec
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store          store.Store
	MFAService     *service.MFAService
	SessionService *service.SessionService
	Passkeys       *factor.PasskeyProvider
}

func NewRouter(
	codec *tokenx.Codec,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		codec:        codec,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerEnrollment()
	r.registerChallenges()
	r.registerManagement()
	r.registerDevices()
	r.registerPasskeys()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerEnrollment() {
	h := &EnrollHandler{MFAService: r.MFAService}

	securedStart := httpx.Chain(http.HandlerFunc(h.HandleStart),
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	// Confirm is strict: each attempt burns TOTP guesses.
	securedConfirm := httpx.Chain(http.HandlerFunc(h.HandleConfirm),
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByUser(httpx.StrictLimit),
	)

	r.Mux.Handle("POST /v1/mfa/enroll/start", securedStart)
	r.Mux.Handle("POST /v1/mfa/enroll/confirm", securedConfirm)
}

func (r *Router) registerChallenges() {
	h := &ChallengeHandler{
		MFAService:     r.MFAService,
		SessionService: r.SessionService,
	}

	// The orchestrator carries its own persistent per-user and per-IP
	// limits; the route-level limit is a cheap outer guard.
	securedInitiate := httpx.Chain(http.HandlerFunc(h.HandleInitiate),
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByIP(httpx.ModerateLimit),
	)
	securedVerify := httpx.Chain(http.HandlerFunc(h.HandleVerify),
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByIP(httpx.ModerateLimit),
	)

	r.Mux.Handle("POST /v1/mfa/challenge/initiate", securedInitiate)
	r.Mux.Handle("POST /v1/mfa/challenge/verify", securedVerify)
}

func (r *Router) registerManagement() {
	disable := &DisableHandler{MFAService: r.MFAService}
	channels := &ChannelsHandler{MFAService: r.MFAService}

	securedDisable := httpx.Chain(disable,
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByUser(httpx.StrictLimit),
	)
	securedChannels := httpx.Chain(channels,
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByUser(httpx.LenientLimit),
	)

	r.Mux.Handle("DELETE /v1/mfa", securedDisable)
	r.Mux.Handle("GET /v1/mfa/channels", securedChannels)
}

func (r *Router) registerDevices() {
	h := &DevicesHandler{SessionService: r.SessionService, Audit: r.MFAService.Audit}

	securedList := httpx.Chain(http.HandlerFunc(h.HandleList),
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByUser(httpx.LenientLimit),
	)
	securedRevoke := httpx.Chain(http.HandlerFunc(h.HandleRevoke),
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	securedRevokeAll := httpx.Chain(http.HandlerFunc(h.HandleRevokeAll),
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	r.Mux.Handle("GET /v1/mfa/devices", securedList)
	r.Mux.Handle("DELETE /v1/mfa/devices/{id}", securedRevoke)
	r.Mux.Handle("DELETE /v1/mfa/devices", securedRevokeAll)
}

func (r *Router) registerPasskeys() {
	h := &PasskeysHandler{Passkeys: r.Passkeys}

	securedStart := httpx.Chain(http.HandlerFunc(h.HandleEnrollStart),
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	securedFinish := httpx.Chain(http.HandlerFunc(h.HandleEnrollFinish),
		httpx.AuthnMiddleware(r.codec),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	r.Mux.Handle("POST /v1/mfa/passkeys/enroll/start", securedStart)
	r.Mux.Handle("POST /v1/mfa/passkeys/enroll/finish", securedFinish)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
