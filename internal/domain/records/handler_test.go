package records

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(r *fakeReader) (*Handler, *echo.Echo) {
	return NewHandler(newTestService(r)), echo.New()
}

func TestHandler_GetFamilyProfile(t *testing.T) {
	h, e := newTestHandler(newFakeReader())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("F-1")

	if err := h.GetFamilyProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if deps, _ := body["dependents"].([]interface{}); len(deps) != 1 {
		t.Errorf("expected 1 dependent in body, got %v", body["dependents"])
	}
}

func TestHandler_GetFamilyProfile_Errors(t *testing.T) {
	r := newFakeReader()
	h, e := newTestHandler(r)

	tests := []struct {
		name        string
		id          string
		failMembers bool
		code        int
	}{
		{"not found", "F-9", false, http.StatusNotFound},
		{"backend down", "F-1", true, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.failMembers = tt.failMembers
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			var he *echo.HTTPError
			if err := h.GetFamilyProfile(c); !errors.As(err, &he) || he.Code != tt.code {
				t.Errorf("expected %d, got %v", tt.code, err)
			}
		})
	}
}

func TestHandler_ListResidents(t *testing.T) {
	h, e := newTestHandler(newFakeReader())
	req := httptest.NewRequest(http.MethodGet, "/?q=santos&limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListResidents(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data    []map[string]interface{} `json:"data"`
		Total   int                      `json:"total"`
		HasMore bool                     `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 3 || len(body.Data) != 2 || !body.HasMore {
		t.Errorf("unexpected page: %+v", body)
	}
}

func TestHandler_ListHouseholds(t *testing.T) {
	h, e := newTestHandler(newFakeReader())
	req := httptest.NewRequest(http.MethodGet, "/?sitio_id=S-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListHouseholds(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 household, got %d", body.Total)
	}
}
