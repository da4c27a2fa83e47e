package cds

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cds/cds/internal/platform/auth"
	"github.com/cds/cds/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Evaluation and ad-hoc checks – any clinical role
	checkGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist", "nurse"))
	checkGroup.POST("/cds/evaluate", h.Evaluate)
	checkGroup.POST("/cds/check/interactions", h.CheckInteractions)
	checkGroup.POST("/cds/check/allergies", h.CheckAllergies)
	checkGroup.POST("/cds/check/age-dosing", h.CheckAgeDosing)
	checkGroup.POST("/cds/check/diagnoses", h.CheckDiagnoses)
	checkGroup.GET("/cds/alerts", h.ListActiveAlerts)
	checkGroup.GET("/cds/alerts/history", h.ListAlertHistory)
	checkGroup.GET("/cds/alerts/:id", h.GetAlert)

	// Alert actions – prescribing roles only
	actionGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist"))
	actionGroup.POST("/cds/alerts/:id/acknowledge", h.AcknowledgeAlert)
	actionGroup.POST("/cds/alerts/:id/override", h.OverrideAlert)
	actionGroup.POST("/cds/alerts/:id/dismiss", h.DismissAlert)

	// Operational endpoints – admin
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.POST("/cds/alerts/sweep-expired", h.SweepExpired)
	adminGroup.GET("/cds/metrics/fatigue", h.FatigueMetrics)
	adminGroup.GET("/cds/metrics/high-override-rules", h.HighOverrideRules)
	adminGroup.GET("/cds/suppression-rules", h.ListSuppressionRules)
}

// -- Evaluation --

func (h *Handler) Evaluate(c echo.Context) error {
	var cc ClinicalContext
	if err := c.Bind(&cc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Evaluate(c.Request().Context(), cc)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

type interactionCheckRequest struct {
	NewMedications      []Medication `json:"new_medications"`
	ExistingMedications []Medication `json:"existing_medications"`
}

func (h *Handler) CheckInteractions(c echo.Context) error {
	var req interactionCheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.NewMedications) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "new_medications is required")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"interactions": h.svc.CheckInteractions(req.NewMedications, req.ExistingMedications),
	})
}

type allergyCheckRequest struct {
	Medications []Medication `json:"medications"`
	Allergies   []Allergy    `json:"allergies"`
}

func (h *Handler) CheckAllergies(c echo.Context) error {
	var req allergyCheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Medications) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "medications is required")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conflicts": h.svc.CheckAllergies(req.Medications, req.Allergies),
	})
}

func (h *Handler) CheckAgeDosing(c echo.Context) error {
	var cc ClinicalContext
	if err := c.Bind(&cc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alerts": h.svc.CheckAgeDosing(cc.Medications, cc),
	})
}

func (h *Handler) CheckDiagnoses(c echo.Context) error {
	var cc ClinicalContext
	if err := c.Bind(&cc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alerts": h.svc.CheckDiagnoses(cc),
	})
}

// -- Alerts --

func (h *Handler) ListActiveAlerts(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alerts": h.svc.ActiveAlerts(c.QueryParam("patient_id")),
	})
}

func (h *Handler) GetAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a := h.svc.GetAlert(id)
	if a == nil {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAlertHistory(c echo.Context) error {
	patientID := c.QueryParam("patient_id")
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.AlertHistory(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	res := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	res.Links = pg.Links(c.Request().URL.Path, total, "patient_id="+url.QueryEscape(patientID))
	return c.JSON(http.StatusOK, res)
}

type alertActionRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

func (h *Handler) AcknowledgeAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req alertActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	a, err := h.svc.AcknowledgeAlert(c.Request().Context(), id, actor, req.Notes)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if a == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active alert with that id")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) OverrideAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req alertActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	a, err := h.svc.OverrideAlert(c.Request().Context(), id, actor, req.Reason)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if a == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active alert with that id")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DismissAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req alertActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	a, err := h.svc.DismissAlert(c.Request().Context(), id, actor, req.Notes)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if a == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active alert with that id")
	}
	return c.JSON(http.StatusOK, a)
}

// -- Operations --

func (h *Handler) SweepExpired(c echo.Context) error {
	n := h.svc.SweepExpiredAlerts(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]int{"expired": n})
}

func (h *Handler) FatigueMetrics(c echo.Context) error {
	var from, to time.Time
	if s := c.QueryParam("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be RFC3339")
		}
		from = t
	}
	if s := c.QueryParam("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be RFC3339")
		}
		to = t
	}
	return c.JSON(http.StatusOK, h.svc.Fatigue(from, to, c.QueryParam("provider_id")))
}

func (h *Handler) HighOverrideRules(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rules": h.svc.HighOverrideRules(),
	})
}

func (h *Handler) ListSuppressionRules(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rules": h.svc.SuppressionRules(),
	})
}
