package profiling

import (
	"errors"
	"net/http"
	"strings"

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
	// Reference data is readable by every signed-in role.
	readGroup := api.Group("/profiling", auth.RequireRole(auth.RoleHealthWorker, auth.RoleMidwife, auth.RoleNurse, auth.RoleViewer))
	readGroup.GET("/steps", h.ListSteps)
	readGroup.GET("/reference", h.GetReferenceData)

	// Sessions – field staff only
	g := api.Group("/profiling/sessions", auth.RequireRole(auth.RoleHealthWorker, auth.RoleMidwife, auth.RoleNurse))
	g.POST("", h.CreateSession)
	g.GET("", h.ListSessions)
	g.GET("/:id", h.GetSession)
	g.DELETE("/:id", h.DiscardSession)
	g.POST("/:id/reset", h.ResetSession)
	g.PATCH("/:id/fields", h.SetFields)
	g.POST("/:id/pick", h.PickResident)
	g.POST("/:id/dependents", h.AddDependent)
	g.DELETE("/:id/dependents/:residentId", h.RemoveDependent)
	g.GET("/:id/conditions/:category/slot", h.GetConditionSlot)
	g.POST("/:id/conditions/:category", h.AddCondition)
	g.DELETE("/:id/conditions/:category/:recordId", h.RemoveCondition)
	g.POST("/:id/next", h.Next)
	g.POST("/:id/previous", h.Previous)
	g.GET("/:id/validation", h.Validate)
	g.POST("/:id/submit", h.Submit)
	g.GET("/:id/options", h.GetOptions)
	g.GET("/:id/respondent", h.GetRespondent)
}

// httpError maps service errors onto HTTP statuses.
func httpError(err error) error {
	var (
		blocked *SubmissionBlockedError
		werr    *WriteError
	)
	switch {
	case errors.As(err, &blocked):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, blocked.Result)
	case errors.As(err, &werr):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrRecordNotFound),
		errors.Is(err, ErrResidentNotFound), errors.Is(err, backend.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownPath), errors.Is(err, ErrFamilyRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoResidentSelected), errors.Is(err, ErrDuplicateDependent),
		errors.Is(err, ErrFieldNotApplicable), errors.Is(err, ErrNoDependents),
		errors.Is(err, ErrNothingSubmitted):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrUnsavedChanges), errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrNoNextStep), errors.Is(err, ErrNoPreviousStep), errors.Is(err, ErrNotOnFinalStep):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, backend.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func sessionID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseCategory(s string) (backend.Category, error) {
	switch strings.ToUpper(s) {
	case string(backend.CategoryNCD):
		return backend.CategoryNCD, nil
	case string(backend.CategoryTB):
		return backend.CategoryTB, nil
	}
	return "", echo.NewHTTPError(http.StatusBadRequest, "category must be ncd or tb")
}

func (h *Handler) ListSteps(c echo.Context) error {
	flow, err := ParseFlow(c.QueryParam("flow"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	steps := flow.Steps()
	out := make([]map[string]interface{}, 0, len(steps))
	for _, s := range steps {
		out = append(out, map[string]interface{}{
			"number":               s.Number,
			"key":                  s.Key,
			"label":                s.Label,
			"icon":                 s.Icon,
			"min_progress_percent": s.MinProgressPercent,
			"progress":             ProgressForStep(s.Number),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetReferenceData(c echo.Context) error {
	data := h.svc.ReferenceData(c.Request().Context())
	status := http.StatusOK
	if data.Degraded() {
		// Usable with empty lists; clients retry the failed collections.
		status = http.StatusPartialContent
	}
	return c.JSON(status, data)
}

type createSessionRequest struct {
	Flow     string `json:"flow"`
	FamilyID string `json:"family_id"`
}

func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	flow, err := ParseFlow(req.Flow)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.Create(c.Request().Context(), flow, req.FamilyID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) ListSessions(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(c, items, total, pg))
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) DiscardSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	force := c.QueryParam("force") == "true"
	if err := h.svc.Discard(c.Request().Context(), id, force); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ResetSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.Reset(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type setFieldsRequest struct {
	Fields map[string]string `json:"fields"`
}

func (h *Handler) SetFields(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var req setFieldsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Fields) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "fields is required")
	}
	view, err := h.svc.SetFields(c.Request().Context(), id, req.Fields)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type pickRequest struct {
	Target     string `json:"target"`
	ResidentID string `json:"resident_id"`
}

func (h *Handler) PickResident(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var req pickRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Target == "" || req.ResidentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target and resident_id are required")
	}
	view, err := h.svc.PickResident(c.Request().Context(), id, req.Target, req.ResidentID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) AddDependent(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.AddDependent(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) RemoveDependent(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.RemoveDependent(c.Request().Context(), id, c.Param("residentId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetConditionSlot(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c.Param("category"))
	if err != nil {
		return err
	}
	slot, err := h.svc.ConditionSlot(c.Request().Context(), id, cat)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) AddCondition(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c.Param("category"))
	if err != nil {
		return err
	}
	view, err := h.svc.AddCondition(c.Request().Context(), id, cat)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) RemoveCondition(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	cat, err := parseCategory(c.Param("category"))
	if err != nil {
		return err
	}
	view, err := h.svc.RemoveCondition(c.Request().Context(), id, cat, c.Param("recordId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type navigationResponse struct {
	Session    *SessionView `json:"session,omitempty"`
	Navigation NavResult    `json:"navigation"`
}

func (h *Handler) Next(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	view, res, err := h.svc.Next(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if !res.Moved {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, navigationResponse{Session: view, Navigation: res})
}

func (h *Handler) Previous(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	view, res, err := h.svc.Previous(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, navigationResponse{Session: view, Navigation: res})
}

func (h *Handler) Validate(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	report, err := h.svc.Validate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

type submitResponse struct {
	Session *SessionView       `json:"session,omitempty"`
	Outcome *SubmissionOutcome `json:"outcome"`
}

// Submit answers with the outcome whenever a pass ran, including failed ones.
func (h *Handler) Submit(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	view, outcome, err := h.svc.Submit(c.Request().Context(), id)
	if outcome == nil {
		if err != nil {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "submission produced no outcome")
	}
	status := http.StatusOK
	var werr *WriteError
	switch {
	case errors.As(err, &werr):
		status = http.StatusBadGateway
	case err != nil:
		status = http.StatusUnprocessableEntity
	case len(outcome.Failures) > 0:
		status = http.StatusMultiStatus
	}
	return c.JSON(status, submitResponse{Session: view, Outcome: outcome})
}

func (h *Handler) GetOptions(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	target := c.QueryParam("target")
	if target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target is required")
	}
	opts, err := h.svc.OptionsFor(c.Request().Context(), id, target)
	if err != nil {
		if errors.Is(err, ErrUnknownPath) || errors.Is(err, ErrSessionNotFound) {
			return httpError(err)
		}
		return c.JSON(http.StatusPartialContent, map[string]interface{}{"options": opts, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"options": opts})
}

func (h *Handler) GetRespondent(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	r, ok, err := h.svc.Respondent(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return c.JSON(http.StatusOK, map[string]interface{}{"resolved": false})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"resolved": true, "respondent": r})
}
