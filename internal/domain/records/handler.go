package records

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chis/chis/internal/backend"
	"github.com/chis/chis/internal/platform/auth"
	"github.com/chis/chis/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/records", auth.RequireRole(auth.RoleHealthWorker, auth.RoleMidwife, auth.RoleNurse, auth.RoleViewer))
	g.GET("/families/:id", h.GetFamilyProfile)
	g.GET("/residents", h.ListResidents)
	g.GET("/households", h.ListHouseholds)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, backend.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) GetFamilyProfile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "family id is required")
	}
	p, err := h.svc.FamilyProfile(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListResidents(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchResidents(c.Request().Context(), ResidentFilter{
		Query:       c.QueryParam("q"),
		HouseholdID: c.QueryParam("household_id"),
	}, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(c, items, total, pg))
}

func (h *Handler) ListHouseholds(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchHouseholds(c.Request().Context(), HouseholdFilter{
		Query:   c.QueryParam("q"),
		SitioID: c.QueryParam("sitio_id"),
	}, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(c, items, total, pg))
}
