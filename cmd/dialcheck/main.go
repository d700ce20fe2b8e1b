package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialcheck/dialcheck/internal/api"
	"github.com/dialcheck/dialcheck/internal/api/middleware"
	"github.com/dialcheck/dialcheck/internal/config"
	"github.com/dialcheck/dialcheck/internal/database"
	"github.com/dialcheck/dialcheck/internal/database/pgstore"
	"github.com/dialcheck/dialcheck/internal/email"
	"github.com/dialcheck/dialcheck/internal/metrics"
	"github.com/dialcheck/dialcheck/internal/notify"
	"github.com/dialcheck/dialcheck/internal/twilio"
	"github.com/dialcheck/dialcheck/internal/verify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialcheck",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"postgres", cfg.DatabaseURL != "",
	)

	startTime := time.Now()

	// Open the store: PostgreSQL when a DSN is configured, embedded SQLite
	// otherwise. Both run their migrations on open.
	var (
		users database.UserRepository
		tests database.SessionRepository
	)
	if cfg.DatabaseURL != "" {
		store, err := pgstore.New(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open postgresql store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		users = store.Users()
		tests = store.Sessions()
	} else {
		db, err := database.Open(cfg.DataDir)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		users = database.NewUserRepository(db)
		tests = database.NewSessionRepository(db)
	}

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Code word generator for new tests.
	generator, err := verify.NewGenerator(verify.DefaultVocabulary, cfg.PhraseLength, nil)
	if err != nil {
		slog.Error("failed to create phrase generator", "error", err)
		os.Exit(1)
	}

	// Twilio client for result SMS. Optional; without credentials the
	// controller runs without out-of-band notifications.
	var notifier verify.Notifier
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		tw, err := twilio.New(twilio.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioPhoneNumber,
		})
		if err != nil {
			slog.Error("failed to create twilio client", "error", err)
			os.Exit(1)
		}
		notifier = notify.NewSMSNotifier(tw, users, logger)
	} else {
		slog.Warn("no twilio credentials configured, result sms disabled")
	}

	controller := verify.NewController(tests, notifier, verify.ControllerConfig{
		WebhookPath: "/webhooks/voice",
		MaxAttempts: cfg.MaxAttempts,
		Tolerance:   cfg.MatchTolerance,
	}, logger)

	emailer := email.NewSender(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		TLS:      cfg.SMTPTLS,
	}, logger)

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("invalid jwt secret", "error", err)
		os.Exit(1)
	}

	// Login session store is shared between the HTTP server and the
	// metrics collector.
	loginSessions := middleware.NewSessionStore()

	// HTTP server using the api package.
	server := api.NewServer(cfg, api.ServerDeps{
		Users:         users,
		Tests:         tests,
		Controller:    controller,
		Generator:     generator,
		Emailer:       emailer,
		JWTSecret:     jwtSecret,
		Metrics:       metricsHandler(tests, startTime, loginSessions),
		LoginSessions: loginSessions,
	}, logger)
	defer server.Close()

	// Background sweeps: expired login sessions and expired verification tests.
	middleware.StartCleanupTicker(appCtx, loginSessions, 15*time.Minute)
	go sweepExpiredTests(appCtx, tests, cfg.CleanupEvery)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("dialcheck stopped")
}

// metricsHandler builds the /metrics handler around a scrape-time collector.
func metricsHandler(tests database.SessionRepository, startTime time.Time, logins metrics.LoginSessionCounter) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(tests, logins, startTime))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// sweepExpiredTests periodically deletes verification sessions past their
// expiry so stale tests cannot be dialed into.
func sweepExpiredTests(ctx context.Context, tests database.SessionRepository, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tests.DeleteExpired(ctx)
			if err != nil {
				slog.Error("expired session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("swept expired sessions", "count", n)
			}
		}
	}
}
