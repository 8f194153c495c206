package appointment

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
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
	readGroup := api.Group("/appointments", auth.RequireRole(auth.RoleHealthWorker, auth.RoleMidwife, auth.RoleNurse, auth.RoleViewer))
	readGroup.GET("", h.ListAppointments)
	readGroup.GET("/:id", h.GetAppointment)

	writeGroup := api.Group("/appointments", auth.RequireRole(auth.RoleHealthWorker, auth.RoleMidwife, auth.RoleNurse))
	writeGroup.POST("", h.BookAppointment)
	writeGroup.PATCH("/:id/status", h.UpdateStatus)
	writeGroup.POST("/:id/cancel", h.CancelAppointment)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnknownResident), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrOverlap), errors.Is(err, ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, backend.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func appointmentID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type bookRequest struct {
	ResidentID string    `json:"resident_id"`
	FamilyID   *string   `json:"family_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Notes      *string   `json:"notes"`
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a := &Appointment{
		ResidentID: req.ResidentID,
		FamilyID:   req.FamilyID,
		Status:     req.Status,
		Reason:     req.Reason,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Notes:      req.Notes,
	}
	if err := h.svc.Book(c.Request().Context(), a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// ListAppointments filters by resident_id, family_id, status and date
// (YYYY-MM-DD of the start time).
func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	if rid := c.QueryParam("resident_id"); rid != "" && c.QueryParam("status") == "" && c.QueryParam("date") == "" {
		items, total, err := h.svc.ListByResident(c.Request().Context(), rid, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewPage(c, items, total, pg))
	}

	params := map[string]string{}
	for query, param := range map[string]string{
		"resident_id": "resident", "family_id": "family", "status": "status", "date": "date",
	} {
		if v := c.QueryParam(query); v != "" {
			params[param] = v
		}
	}
	if d, ok := params["date"]; ok {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
	}
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(c, items, total, pg))
}

type statusRequest struct {
	Status    string `json:"status"`
	Reason    string `json:"reason"`
	VersionID int    `json:"version_id"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var a *Appointment
	if req.Status == StatusCancelled {
		a, err = h.svc.Cancel(c.Request().Context(), id, req.Reason, req.VersionID)
	} else {
		a, err = h.svc.UpdateStatus(c.Request().Context(), id, req.Status, req.VersionID)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Cancel(c.Request().Context(), id, req.Reason, req.VersionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
