package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer string // Issuer claim for tokens and the TOTP provisioning URI

	SessionSecret string // Required: HMAC secret for session and ceremony tokens
	TrustedSecret string // Optional: separate HMAC secret for trusted-device tokens (default: SessionSecret)

	DatabaseFile string // Optional: path to SQLite database file (default: ./authx.db)
	PepperFile   string // Optional: path to pepper file for one-time-code hashing (default: ./pepper)
	DataKeyPath  string // Optional: path to the data encryption key file (falls back to AUTHX_DATA_KEY env)

	RPID      string   // Optional: WebAuthn relying party ID; passkeys disabled when empty
	RPOrigins []string // Optional: allowed WebAuthn origins (comma separated in env)

	TwilioAccountSID   string // Optional: whatsapp channel unavailable when unset
	TwilioAuthToken    string
	TwilioWhatsAppFrom string

	MailAPIURL string // Optional: email channel unavailable when unset
	MailAPIKey string

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:        getEnvOrDefault("AUTHX_ISSUER", "authx"),
		SessionSecret: os.Getenv("AUTHX_SESSION_SECRET"),
		TrustedSecret: os.Getenv("AUTHX_TRUSTED_SECRET"),
		DatabaseFile:  getEnvOrDefault("AUTHX_DATABASE_FILE", "authx.db"),
		PepperFile:    getEnvOrDefault("AUTHX_PEPPER_FILE", "pepper"),
		DataKeyPath:   os.Getenv("AUTHX_DATA_KEY_PATH"),

		RPID: os.Getenv("AUTHX_RP_ID"),

		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppFrom: os.Getenv("TWILIO_WHATSAPP_FROM"),

		MailAPIURL: os.Getenv("MAIL_API_URL"),
		MailAPIKey: os.Getenv("MAIL_API_KEY"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	if origins := os.Getenv("AUTHX_RP_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.RPOrigins = append(cfg.RPOrigins, o)
			}
		}
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
