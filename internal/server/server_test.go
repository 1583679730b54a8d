package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"threatlens/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			HTTPPort:        0,
			GRPCPort:        0,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"https://console.example.com"},
		},
		Database: config.DatabaseConfig{QueryTimeout: time.Second},
		Records:  config.RecordsConfig{Backend: "memory"},
		Ledger:   config.LedgerConfig{Backend: "badger", BadgerDir: "", Algorithm: "blake2b-256", RecordAlerts: true},
		Security: config.SecurityConfig{
			JWTSecret:  "server-test-secret",
			JWTIssuer:  "threatlens",
			TokenTTL:   time.Hour,
			AdminRole:  "admin",
			LedgerRole: "admin",
		},
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerSecond: 10, Burst: 10},
		Analysis:  config.AnalysisConfig{Analyzer: "random", Seed: 1},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func TestServerRoutes(t *testing.T) {
	srv := New(testConfig(), zap.NewNop())
	require.NoError(t, srv.Initialize(context.Background()))
	t.Cleanup(func() { srv.backends.Close() })
	handler := srv.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusOK, get("/health/ready").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/alerts").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/alerts").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/log-alerts").Code)

	body := `{"username":"spam_bot","platform":"twitter","reason":"Floods replies with crypto scams"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/report", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	metricsRec := get("/metrics")
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "threatlens_reports_submitted_total")
	assert.Contains(t, metricsRec.Body.String(), "threatlens_stream_clients")
}

func TestServerCORS(t *testing.T) {
	srv := New(testConfig(), zap.NewNop())
	require.NoError(t, srv.Initialize(context.Background()))
	t.Cleanup(func() { srv.backends.Close() })

	req := httptest.NewRequest(http.MethodOptions, "/alerts", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOpenBackendsRejectsUnknownAlgorithm(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.Algorithm = "md5"
	_, err := OpenBackends(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
