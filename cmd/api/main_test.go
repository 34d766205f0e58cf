package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/wolfman30/clinic-booking-agent/internal/config"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

func TestNewRegistryExposesRuntimeMetrics(t *testing.T) {
	reg := newRegistry()
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected go runtime metrics to be exported")
	}
}

func TestBuildInfraInMemory(t *testing.T) {
	logger := logging.New("error")
	cfg := &appconfig.Config{Env: "development"}

	infra, cleanup, err := buildInfra(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()

	if infra.Pool != nil || infra.Redis != nil {
		t.Fatalf("expected no external stores without configuration")
	}
	if infra.Interpreter != nil {
		t.Fatalf("expected rules-only extraction without model configuration")
	}
	if infra.Gateway == nil {
		t.Fatalf("expected a gateway")
	}
	var _ prometheus.Gatherer = infra.Registry
}
