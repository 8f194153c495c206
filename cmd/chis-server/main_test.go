package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chis/chis/internal/config"
	"github.com/chis/chis/internal/platform/db"
)

func testConfig(backendURL string) *config.Config {
	return &config.Config{
		Port:                    "0",
		Env:                     "development",
		BackendURL:              backendURL,
		BackendTimeout:          time.Second,
		ReferenceCacheTTL:       time.Minute,
		SubmissionFailurePolicy: "stop-category",
		CORSOrigins:             []string{"http://localhost:3000"},
		RequestTimeout:          5 * time.Second,
		BodyLimit:               "1M",
	}
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(backendSrv.Close)

	srv, err := buildServer(context.Background(), testConfig(backendSrv.URL), zerolog.Nop())
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	t.Cleanup(srv.close)
	return srv
}

func TestBuildServer_Health(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id on every response")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestBuildServer_ProfilingSteps(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/profiling/steps?flow=continuation", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var steps []map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &steps)
	if len(steps) != 4 {
		t.Errorf("expected 4 continuation steps, got %d", len(steps))
	}
}

func TestBuildServer_CreateSessionInMemory(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/profiling/sessions", strings.NewReader(`{"flow":"registration"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBuildServer_Metrics(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chis_wizard_active_sessions") {
		t.Error("expected service collectors in /metrics output")
	}
}

func TestBuildServer_RejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig("http://backend.invalid")
	cfg.SubmissionFailurePolicy = "retry-forever"
	if _, err := buildServer(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown failure policy")
	}
}

func TestMigrationFiles_Embedded(t *testing.T) {
	migrations, err := db.NewMigrator(nil, migrationFiles("")).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected embedded migrations, got %d", len(migrations))
	}
	if migrations[0].Name != "001_profiling_sessions.sql" || migrations[1].Name != "002_appointments.sql" {
		t.Errorf("unexpected migrations: %s, %s", migrations[0].Name, migrations[1].Name)
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, "public", []db.MigrationStatus{
		{Version: 1, Name: "001_profiling_sessions.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_appointments.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "Migration status for schema: public") {
		t.Errorf("missing header: %s", out)
	}
	if !strings.Contains(out, "applied    2026-06-01 08:00:00") {
		t.Errorf("expected applied row with timestamp: %s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("expected pending row: %s", out)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("production", &buf)
	logger.Info().Msg("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output outside development: %v", err)
	}
	if line["message"] != "hello" || line["time"] == nil {
		t.Errorf("unexpected log line: %v", line)
	}
}
