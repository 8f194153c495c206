package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runHealth(t *testing.T, checks ...Check) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(checks...)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	code, body := runHealth(t,
		Check{Name: "postgres", Ping: func(context.Context) error { return nil },
			Details: func() interface{} { return &PoolStats{TotalConns: 2, Healthy: true} }},
		Check{Name: "redis", Ping: func(context.Context) error { return nil }},
	)
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	checks := body["checks"].(map[string]interface{})
	pg := checks["postgres"].(map[string]interface{})
	if pg["details"] == nil {
		t.Error("expected pool details in the postgres result")
	}
}

func TestHealthHandler_OneUnhealthy(t *testing.T) {
	code, body := runHealth(t,
		Check{Name: "postgres", Ping: func(context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	checks := body["checks"].(map[string]interface{})
	redis := checks["redis"].(map[string]interface{})
	if redis["status"] != "unhealthy" || redis["error"] != "connection refused" {
		t.Errorf("unexpected redis result: %v", redis)
	}
	if checks["postgres"].(map[string]interface{})["status"] != "healthy" {
		t.Error("postgres should still report healthy")
	}
}

func TestHealthHandler_NoChecks(t *testing.T) {
	code, body := runHealth(t)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("expected healthy with no dependencies, got %d %v", code, body)
	}
}

func TestPoolStats_UnhealthyState(t *testing.T) {
	stats := &PoolStats{MaxConns: 20, AcquireDuration: "0s"}
	if stats.Healthy {
		t.Error("expected Healthy to be false when TotalConns is 0")
	}
}
