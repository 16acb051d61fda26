// Adgateway provisions and tears down AWS Managed Microsoft AD directories
// behind a single POST /run endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bturcanu/adgateway/pkg/audit"
	"github.com/bturcanu/adgateway/pkg/auth"
	"github.com/bturcanu/adgateway/pkg/config"
	"github.com/bturcanu/adgateway/pkg/directory"
	"github.com/bturcanu/adgateway/pkg/dispatch"
	"github.com/bturcanu/adgateway/pkg/notify"
	adotel "github.com/bturcanu/adgateway/pkg/otel"
	"github.com/bturcanu/adgateway/pkg/policy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	loaded := config.LoadDotEnv(".")
	cfg := config.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)
	if len(loaded) > 0 {
		log.Info("environment files loaded", "files", loaded)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Service, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelShutdown, err := adotel.Setup(ctx, adotel.ConfigFrom(cfg, version))
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	// ── Directory Service ────────────────────────────────────────────────
	clients, err := directory.NewAWSClientFactory(ctx, cfg.DefaultRegion, cfg.AWSEndpointURL)
	if err != nil {
		return err
	}
	if cfg.DirectoryPassword == "" {
		log.Warn("AD_ADMIN_PASSWORD is not set; create requests will be rejected by Directory Service")
	}
	directories := directory.NewService(clients, directory.Config{
		Password: cfg.DirectoryPassword,
		Edition:  cfg.DirectoryEdition,
		Timeout:  cfg.OperationTimeout,
	}, log)

	// ── Audit (optional) ─────────────────────────────────────────────────
	var (
		store    *audit.Store
		recorder audit.Recorder
		events   gatewayEvents
	)
	if cfg.AuditEnabled() {
		pool, err := pgxpool.New(ctx, cfg.AuditDatabaseURL)
		if err != nil {
			return fmt.Errorf("audit database: %w", err)
		}
		defer pool.Close()
		store = audit.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		recorder, events = store, store
		log.Info("audit trail enabled")
	}

	// ── Auth (optional) ──────────────────────────────────────────────────
	var keys *auth.KeyStore
	if cfg.APIKeys != "" {
		keys, err = auth.NewKeyStore(cfg.APIKeys)
		if err != nil {
			return err
		}
		log.Info("api key auth enabled", "keys", keys.Len())
	}

	// ── Policy (optional) ────────────────────────────────────────────────
	var guard gatewayPolicy
	if cfg.PolicyURL != "" {
		guard = policy.NewClient(cfg.PolicyURL)
		log.Info("policy checks enabled", "opa_url", cfg.PolicyURL)
	}

	// ── Notifications (optional) ─────────────────────────────────────────
	var notifier gatewayNotifier
	if cfg.NotifyWebhookURL != "" {
		hook, err := notify.NewWebhook(cfg.NotifyWebhookURL, notify.Options{
			Secret: cfg.NotifySecret,
			Source: cfg.NotifySource,
		}, log)
		if err != nil {
			return err
		}
		hook.Start(ctx)
		defer hook.Close()
		notifier = hook
		log.Info("lifecycle notifications enabled")
	}

	gw := &Gateway{
		log:         log,
		dispatch:    dispatch.ForDirectory(directories),
		directories: directories,
		audit:       audit.NewLogger(recorder, log),
		events:      events,
		policy:      guard,
		notifier:    notifier,
		limiter:     newCallerLimiter(cfg.RateLimitPerSec, maxRateLimiters),
		strict:      cfg.StrictValidation,
		statusCodes: cfg.ErrorStatusCodes,
	}

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	if cfg.MetricsAddr != "" {
		go func() {
			log.Info("metrics server starting", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	// ── Server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Routes(keys),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout(cfg.OperationTimeout),
		IdleTimeout:       60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("gateway starting",
			"addr", cfg.Addr,
			"version", version,
			"strict_validation", cfg.StrictValidation,
			"error_status_codes", cfg.ErrorStatusCodes,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.ShutdownGraceTime)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if cfg.MetricsAddr != "" {
		if err := metricsSrv.Shutdown(shutCtx); err != nil {
			log.Error("metrics server shutdown error", "error", err)
		}
	}

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}
