package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the dialcheck server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	DatabaseURL string // PostgreSQL DSN; empty selects the embedded SQLite store
	BaseURL     string // public base URL, used in emails and webhook signature checks
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"
	CORSOrigins string

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SMTPTLS      string // "none", "starttls", "tls"

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string // E.164 number callers dial for verification
	ValidateWebhooks  bool   // verify X-Twilio-Signature on webhook requests

	JWTSecret string // hex-encoded 32-byte secret for email verification tokens

	MaxAttempts    int           // speech attempts allowed per verification call
	MatchTolerance int           // per-word edit distance allowed when matching
	PhraseLength   int           // number of code words per test
	SessionTTL     time.Duration // how long a pending test stays callable
	CleanupEvery   time.Duration // interval between expired-session sweeps
}

// defaults
const (
	defaultDataDir      = "./data"
	defaultHTTPPort     = 8080
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultSMTPPort     = "587"
	defaultSMTPTLS      = "starttls"
	defaultMaxAttempts  = 2
	defaultTolerance    = 1
	defaultPhraseLength = 5
	defaultSessionTTL   = time.Hour
	defaultCleanupEvery = 5 * time.Minute
)

// envPrefix is the prefix for all dialcheck environment variables.
const envPrefix = "DIALCHECK_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialcheck", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL DSN (uses embedded SQLite if empty)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "public base URL of this server (e.g., https://dialcheck.example.com)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")

	fs.StringVar(&cfg.SMTPHost, "smtp-host", "", "SMTP server hostname")
	fs.StringVar(&cfg.SMTPPort, "smtp-port", defaultSMTPPort, "SMTP server port")
	fs.StringVar(&cfg.SMTPFrom, "smtp-from", "", "From address for outgoing email")
	fs.StringVar(&cfg.SMTPUsername, "smtp-username", "", "SMTP auth username")
	fs.StringVar(&cfg.SMTPPassword, "smtp-password", "", "SMTP auth password")
	fs.StringVar(&cfg.SMTPTLS, "smtp-tls", defaultSMTPTLS, "SMTP TLS mode (none, starttls, tls)")

	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "Twilio account SID")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token")
	fs.StringVar(&cfg.TwilioPhoneNumber, "twilio-phone-number", "", "E.164 number callers dial for verification")
	fs.BoolVar(&cfg.ValidateWebhooks, "validate-webhooks", true, "verify X-Twilio-Signature on incoming webhooks")

	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for email verification tokens (auto-generated if empty)")

	fs.IntVar(&cfg.MaxAttempts, "max-attempts", defaultMaxAttempts, "speech attempts allowed per verification call")
	fs.IntVar(&cfg.MatchTolerance, "match-tolerance", defaultTolerance, "per-word edit distance allowed when matching speech")
	fs.IntVar(&cfg.PhraseLength, "phrase-length", defaultPhraseLength, "number of code words per verification test")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", defaultSessionTTL, "how long a pending test stays callable")
	fs.DurationVar(&cfg.CleanupEvery, "cleanup-interval", defaultCleanupEvery, "interval between expired-session sweeps")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":            envPrefix + "DATA_DIR",
		"http-port":           envPrefix + "HTTP_PORT",
		"database-url":        envPrefix + "DATABASE_URL",
		"base-url":            envPrefix + "BASE_URL",
		"log-level":           envPrefix + "LOG_LEVEL",
		"log-format":          envPrefix + "LOG_FORMAT",
		"cors-origins":        envPrefix + "CORS_ORIGINS",
		"smtp-host":           envPrefix + "SMTP_HOST",
		"smtp-port":           envPrefix + "SMTP_PORT",
		"smtp-from":           envPrefix + "SMTP_FROM",
		"smtp-username":       envPrefix + "SMTP_USERNAME",
		"smtp-password":       envPrefix + "SMTP_PASSWORD",
		"smtp-tls":            envPrefix + "SMTP_TLS",
		"twilio-account-sid":  envPrefix + "TWILIO_ACCOUNT_SID",
		"twilio-auth-token":   envPrefix + "TWILIO_AUTH_TOKEN",
		"twilio-phone-number": envPrefix + "TWILIO_PHONE_NUMBER",
		"validate-webhooks":   envPrefix + "VALIDATE_WEBHOOKS",
		"jwt-secret":          envPrefix + "JWT_SECRET",
		"max-attempts":        envPrefix + "MAX_ATTEMPTS",
		"match-tolerance":     envPrefix + "MATCH_TOLERANCE",
		"phrase-length":       envPrefix + "PHRASE_LENGTH",
		"session-ttl":         envPrefix + "SESSION_TTL",
		"cleanup-interval":    envPrefix + "CLEANUP_INTERVAL",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "database-url":
			cfg.DatabaseURL = val
		case "base-url":
			cfg.BaseURL = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "smtp-host":
			cfg.SMTPHost = val
		case "smtp-port":
			cfg.SMTPPort = val
		case "smtp-from":
			cfg.SMTPFrom = val
		case "smtp-username":
			cfg.SMTPUsername = val
		case "smtp-password":
			cfg.SMTPPassword = val
		case "smtp-tls":
			cfg.SMTPTLS = val
		case "twilio-account-sid":
			cfg.TwilioAccountSID = val
		case "twilio-auth-token":
			cfg.TwilioAuthToken = val
		case "twilio-phone-number":
			cfg.TwilioPhoneNumber = val
		case "validate-webhooks":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.ValidateWebhooks = v
			}
		case "jwt-secret":
			cfg.JWTSecret = val
		case "max-attempts":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxAttempts = v
			}
		case "match-tolerance":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MatchTolerance = v
			}
		case "phrase-length":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.PhraseLength = v
			}
		case "session-ttl":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.SessionTTL = v
			}
		case "cleanup-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.CleanupEvery = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	validTLS := map[string]bool{"none": true, "starttls": true, "tls": true}
	if !validTLS[strings.ToLower(c.SMTPTLS)] {
		return fmt.Errorf("smtp-tls must be one of none, starttls, tls; got %q", c.SMTPTLS)
	}
	c.SMTPTLS = strings.ToLower(c.SMTPTLS)

	if c.MaxAttempts < 1 {
		return fmt.Errorf("max-attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.MatchTolerance < 0 {
		return fmt.Errorf("match-tolerance must not be negative, got %d", c.MatchTolerance)
	}
	if c.PhraseLength < 1 {
		return fmt.Errorf("phrase-length must be at least 1, got %d", c.PhraseLength)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session-ttl must be positive, got %s", c.SessionTTL)
	}
	if c.CleanupEvery <= 0 {
		return fmt.Errorf("cleanup-interval must be positive, got %s", c.CleanupEvery)
	}

	if c.ValidateWebhooks && c.TwilioAuthToken == "" && c.TwilioAccountSID != "" {
		return fmt.Errorf("validate-webhooks requires twilio-auth-token")
	}

	return nil
}

// WebhookURL returns the absolute URL the voice webhook is served on,
// used for signature validation. Empty when base-url is not configured.
func (c *Config) WebhookURL() string {
	if c.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.BaseURL, "/") + "/webhooks/voice"
}

// JWTSecretBytes returns the decoded 32-byte token signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
