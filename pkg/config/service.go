package config

import (
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

// Service is the gateway configuration. It is built once at start and must
// not be mutated afterwards.
type Service struct {
	Addr        string
	MetricsAddr string
	LogLevel    slog.Level

	// Directory administrator password passed to CreateMicrosoftAD.
	DirectoryPassword string
	DirectoryEdition  string
	DefaultRegion     string
	AWSEndpointURL    string
	OperationTimeout  time.Duration

	APIKeys           string
	RateLimitPerSec   int
	StrictValidation  bool
	ErrorStatusCodes  bool
	AuditDatabaseURL  string
	PolicyURL         string
	NotifyWebhookURL  string
	NotifySecret      string
	NotifySource      string
	OTLPEndpoint      string
	ServiceName       string
	ShutdownGraceTime time.Duration
}

// Load reads the service configuration from the environment.
func Load() Service {
	return Service{
		Addr:              EnvOr("GATEWAY_ADDR", ":8080"),
		MetricsAddr:       EnvOr("METRICS_ADDR", "127.0.0.1:9090"),
		LogLevel:          parseLevel(EnvOr("LOG_LEVEL", "info")),
		DirectoryPassword: EnvOr("AD_ADMIN_PASSWORD", os.Getenv("AWS_PASSWORD")),
		DirectoryEdition:  EnvOr("AD_EDITION", "Standard"),
		DefaultRegion:     EnvOr("AWS_REGION", os.Getenv("AWS_DEFAULT_REGION")),
		AWSEndpointURL:    os.Getenv("AWS_ENDPOINT_URL"),
		OperationTimeout:  EnvOrDuration("OPERATION_TIMEOUT", 0),
		APIKeys:           os.Getenv("API_KEYS"),
		RateLimitPerSec:   EnvOrInt("RATE_LIMIT_PER_CALLER", 0),
		StrictValidation:  EnvOrBool("STRICT_VALIDATION", false),
		ErrorStatusCodes:  EnvOrBool("RUN_ERROR_STATUS_CODES", false),
		AuditDatabaseURL:  auditDSN(),
		PolicyURL:         strings.TrimRight(os.Getenv("OPA_URL"), "/"),
		NotifyWebhookURL:  os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifySecret:      os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		NotifySource:      EnvOr("NOTIFY_SOURCE", "adgateway"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:       EnvOr("OTEL_SERVICE_NAME", "ad-gateway"),
		ShutdownGraceTime: EnvOrDuration("SHUTDOWN_GRACE", 10*time.Second),
	}
}

// AuditEnabled reports whether an audit database is configured.
func (s Service) AuditEnabled() bool {
	return s.AuditDatabaseURL != ""
}

// auditDSN prefers AUDIT_DATABASE_URL and otherwise assembles a URL from the
// POSTGRES_* parts. Without POSTGRES_HOST auditing stays off.
func auditDSN() string {
	if v := os.Getenv("AUDIT_DATABASE_URL"); v != "" {
		return v
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(EnvOr("POSTGRES_USER", "adgateway"), EnvOr("POSTGRES_PASSWORD", "changeme")),
		Host:     net.JoinHostPort(host, EnvOr("POSTGRES_PORT", "5432")),
		Path:     EnvOr("POSTGRES_DB", "adgateway"),
		RawQuery: "sslmode=" + url.QueryEscape(EnvOr("POSTGRES_SSLMODE", "disable")),
	}
	return u.String()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
