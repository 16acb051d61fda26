package otel

import (
	"context"
	"testing"
	"time"

	"github.com/bturcanu/adgateway/pkg/config"
)

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.Service{
		ServiceName:  "ad-gateway",
		OTLPEndpoint: "http://collector:4318/",
		MetricsAddr:  "127.0.0.1:9090",
	}, "v1.2.3")

	if cfg.ServiceName != "ad-gateway" || cfg.ServiceVersion != "v1.2.3" {
		t.Errorf("unexpected identity: %+v", cfg)
	}
	if cfg.OTLPEndpoint != "collector:4318" {
		t.Errorf("OTLPEndpoint = %q", cfg.OTLPEndpoint)
	}
	if !cfg.TracingEnabled() || !cfg.MetricsEnabled {
		t.Errorf("expected tracing and metrics enabled: %+v", cfg)
	}

	off := ConfigFrom(config.Service{ServiceName: "ad-gateway"}, "")
	if off.TracingEnabled() || off.MetricsEnabled {
		t.Errorf("expected telemetry off: %+v", off)
	}
}

func TestSetup_WithoutExporters(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "ad-gateway-test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
