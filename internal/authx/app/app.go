package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/factor"
	httpapi "github.com/ibimina/authx/internal/authx/http"
	"github.com/ibimina/authx/internal/authx/ratelimit"
	"github.com/ibimina/authx/internal/authx/replay"
	"github.com/ibimina/authx/internal/authx/service"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/internal/authx/store/drivers/sqlite"
	"github.com/ibimina/authx/pkg/cryptox"
	"github.com/ibimina/authx/pkg/slogx"
	"github.com/ibimina/authx/pkg/tokenx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the MFA service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db store.Store

	sessionCodec *tokenx.Codec
	trustedCodec *tokenx.Codec

	mfaService          *service.MFAService
	sessionService      *service.SessionService
	housekeepingService *service.HousekeepingService
	passkeys            *factor.PasskeyProvider

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authx",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)
	if cfg.DataKeyPath != "" {
		cryptox.SetDataKeyPath(cfg.DataKeyPath)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initCodecs(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("authx service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authx service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("authx service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initCodecs() error {
	sessionSecret := app.cfg.SessionSecret
	if sessionSecret == "" {
		// Ephemeral secret: tokens do not survive a restart. NOT for
		// production.
		sessionSecret = cryptox.MustGenerateToken(cryptox.TokenSize256)
		app.logger.Warn("AUTHX_SESSION_SECRET not set, using ephemeral secret")
	}

	sessionCodec, err := tokenx.NewCodec([]byte(sessionSecret), app.cfg.Issuer)
	if err != nil {
		return fmt.Errorf("failed to initialize session codec: %w", err)
	}
	app.sessionCodec = sessionCodec
	app.trustedCodec = sessionCodec

	if app.cfg.TrustedSecret != "" {
		trustedCodec, err := tokenx.NewCodec([]byte(app.cfg.TrustedSecret), app.cfg.Issuer)
		if err != nil {
			return fmt.Errorf("failed to initialize trusted device codec: %w", err)
		}
		app.trustedCodec = trustedCodec
	}

	return nil
}

func (app *Application) initServices() error {
	var wa *webauthn.WebAuthn
	if app.cfg.RPID != "" {
		var err error
		wa, err = webauthn.New(&webauthn.Config{
			RPID:          app.cfg.RPID,
			RPDisplayName: app.cfg.Issuer,
			RPOrigins:     app.cfg.RPOrigins,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize webauthn: %w", err)
		}
	} else {
		app.logger.Info("AUTHX_RP_ID not set, passkeys unavailable")
	}
	app.passkeys = factor.NewPasskey(wa, app.db.PasskeyCredentials(), app.sessionCodec)

	var mailer factor.Mailer
	if app.cfg.MailAPIURL != "" {
		mailer = &factor.APIMailer{URL: app.cfg.MailAPIURL, APIKey: app.cfg.MailAPIKey}
	} else {
		app.logger.Info("MAIL_API_URL not set, email channel unavailable")
	}

	var whatsapp factor.WhatsAppSender
	if app.cfg.TwilioAccountSID != "" && app.cfg.TwilioAuthToken != "" && app.cfg.TwilioWhatsAppFrom != "" {
		whatsapp = &factor.TwilioWhatsAppSender{
			AccountSID: app.cfg.TwilioAccountSID,
			AuthToken:  app.cfg.TwilioAuthToken,
			From:       app.cfg.TwilioWhatsAppFrom,
		}
	} else {
		app.logger.Info("Twilio credentials not set, whatsapp channel unavailable")
	}

	providers := map[domain.FactorKind]factor.Provider{
		domain.FactorTOTP:     factor.NewTOTP(),
		domain.FactorEmail:    factor.NewEmail(mailer, app.db.OTPCodes()),
		domain.FactorWhatsApp: factor.NewWhatsApp(whatsapp, app.db.OTPCodes()),
		domain.FactorBackup:   factor.NewBackup(app.db.MFAStates()),
		domain.FactorPasskey:  app.passkeys,
	}

	app.sessionService = &service.SessionService{
		Codec:        app.sessionCodec,
		TrustedCodec: app.trustedCodec,
		Devices:      app.db.TrustedDevices(),
	}

	app.mfaService = &service.MFAService{
		Store:     app.db,
		Providers: providers,
		Limiter:   ratelimit.New(app.db.RateLimits(), app.logger),
		Replay:    replay.NewMemoryGuard(0),
		Sessions:  app.sessionService,
		Audit:     &service.AuditRecorder{Events: app.db.AuditEvents(), Logger: app.logger},
		Codec:     app.sessionCodec,
		Issuer:    app.cfg.Issuer,
		Logger:    app.logger,

		WhatsAppConfigured: whatsapp != nil,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.sessionCodec,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.MFAService = app.mfaService
	router.SessionService = app.sessionService
	router.Passkeys = app.passkeys
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
