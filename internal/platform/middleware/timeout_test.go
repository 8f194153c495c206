package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func timeoutContext(path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-42")
	return c, rec
}

func TestRequestTimeout_BackendDeadlineAnswers504(t *testing.T) {
	c, rec := timeoutContext("/api/v1/records/residents")

	// A handler whose backend call ran into the deadline and was mapped to
	// its own error.
	handler := func(c echo.Context) error {
		<-c.Request().Context().Done()
		return echo.NewHTTPError(http.StatusBadGateway, "records backend unavailable")
	}

	if err := RequestTimeout(20 * time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["request_id"] != "req-42" || body["message"] == "" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestRequestTimeout_DetachedWorkAnswersNormally(t *testing.T) {
	c, rec := timeoutContext("/api/v1/profiling/sessions/1/submit")

	handler := func(c echo.Context) error {
		detached := context.WithoutCancel(c.Request().Context())
		<-c.Request().Context().Done()
		if detached.Err() != nil {
			t.Error("detached context must not be cancelled")
		}
		return c.JSON(http.StatusMultiStatus, map[string]string{"outcome": "partial"})
	}

	if err := RequestTimeout(20 * time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusMultiStatus {
		t.Errorf("a handler that answered keeps its status, got %d", rec.Code)
	}
}

func TestRequestTimeout_ErrorsBeforeDeadlinePassThrough(t *testing.T) {
	c, rec := timeoutContext("/api/v1/profiling/sessions/1")

	handler := func(c echo.Context) error {
		return fmt.Errorf("wrapped: %w", echo.NewHTTPError(http.StatusNotFound, "profiling session not found"))
	}

	err := RequestTimeout(time.Second)(handler)(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected the handler's 404, got %v", err)
	}
	if rec.Code == http.StatusGatewayTimeout {
		t.Error("no 504 before the deadline")
	}
}

func TestRequestTimeout_SkipsPrefixes(t *testing.T) {
	for _, path := range []string{"/metrics", "/health"} {
		c, _ := timeoutContext(path)
		handler := func(c echo.Context) error {
			if _, ok := c.Request().Context().Deadline(); ok {
				t.Errorf("%s: expected no deadline", path)
			}
			return c.NoContent(http.StatusOK)
		}
		if err := RequestTimeout(time.Millisecond, "/metrics", "/health")(handler)(c); err != nil {
			t.Fatalf("%s: unexpected error: %v", path, err)
		}
	}
}
