package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =skip,tenant=escrow")
	if len(headers) != 2 || headers["api-key"] != "abc" || headers["tenant"] != "escrow" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestFromEnvDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := FromEnv("escrowd", "test", "0x00000000000000000000000000000000000000e5")
	if cfg.Enabled() {
		t.Fatalf("exporters must stay disabled without an endpoint: %+v", cfg)
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestFromEnvReadsExporterSettings(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=token")
	cfg := FromEnv("escrowd", "prod", "0x00000000000000000000000000000000000000e5")
	if !cfg.Enabled() || cfg.Insecure || cfg.Endpoint != "collector:4318" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Headers["authorization"] != "token" || cfg.Instance == "" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestFromEnvDefaultsToInsecure(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "maybe")
	if !FromEnv("escrowd", "", "").Insecure {
		t.Fatalf("unparseable insecure flag must keep the default")
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}
