package journey

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gmtcc/insight/pkg/pagination"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetDashboard)
	g.GET("/state", h.GetState)
	g.GET("/steps", h.GetSteps)
	g.GET("/actions", h.GetActions)

	g.POST("/purchases", h.BuyItem)
	g.POST("/test-status", h.AdvanceTestStatus)
	g.POST("/consultation", h.ScheduleConsultation)
	g.POST("/consultation/complete", h.CompleteConsultation)
	g.POST("/brt", h.ScheduleBrt)
	g.POST("/brt/skip", h.SkipBrt)
	g.POST("/questionnaire", h.CompleteQuestionnaire)
	g.POST("/probiotics/purchase", h.PurchaseProbiotics)
	g.POST("/probiotics/ship", h.ShipProbiotics)

	g.GET("/notifications", h.ListNotifications)
	g.POST("/notifications/:id/read", h.MarkNotificationRead)

	g.POST("/reset", h.ResetSimulation)
}

// httpError maps store errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPersistence):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "journey state could not be saved, please retry")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) respond(c echo.Context, s JourneyState, err error) error {
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, BuildDashboard(s, h.store.Policy()))
}

func (h *Handler) GetDashboard(c echo.Context) error {
	s, err := h.store.State(c.Request().Context())
	return h.respond(c, s, err)
}

func (h *Handler) GetState(c echo.Context) error {
	s, err := h.store.State(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetSteps(c echo.Context) error {
	s, err := h.store.State(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"steps": Steps(s),
		"tabs":  Tabs(s),
	})
}

func (h *Handler) GetActions(c echo.Context) error {
	s, err := h.store.State(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Actions(s, h.store.Policy()))
}

type purchaseRequest struct {
	Option string `json:"option"`
}

func (h *Handler) BuyItem(c echo.Context) error {
	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	opt, err := ParsePurchaseOption(req.Option)
	if err != nil {
		return httpError(err)
	}
	s, err := h.store.BuyItem(c.Request().Context(), opt)
	return h.respond(c, s, err)
}

type testStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) AdvanceTestStatus(c echo.Context) error {
	var req testStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	next, err := ParseTestStatus(req.Status)
	if err != nil {
		return httpError(err)
	}
	s, err := h.store.AdvanceTestStatus(c.Request().Context(), next)
	return h.respond(c, s, err)
}

type scheduleRequest struct {
	Date string `json:"date"`
}

func bindDate(c echo.Context) (time.Time, error) {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Date == "" {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	at, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date must be RFC 3339")
	}
	return at, nil
}

func (h *Handler) ScheduleConsultation(c echo.Context) error {
	at, err := bindDate(c)
	if err != nil {
		return err
	}
	s, err := h.store.ScheduleConsultation(c.Request().Context(), at)
	return h.respond(c, s, err)
}

func (h *Handler) ScheduleBrt(c echo.Context) error {
	at, err := bindDate(c)
	if err != nil {
		return err
	}
	s, err := h.store.ScheduleBrt(c.Request().Context(), at)
	return h.respond(c, s, err)
}

func (h *Handler) SkipBrt(c echo.Context) error {
	s, err := h.store.SkipBrt(c.Request().Context())
	return h.respond(c, s, err)
}

func (h *Handler) CompleteConsultation(c echo.Context) error {
	s, err := h.store.CompleteConsultation(c.Request().Context())
	return h.respond(c, s, err)
}

func (h *Handler) CompleteQuestionnaire(c echo.Context) error {
	s, err := h.store.CompleteQuestionnaire(c.Request().Context())
	return h.respond(c, s, err)
}

func (h *Handler) PurchaseProbiotics(c echo.Context) error {
	s, err := h.store.PurchaseProbiotics(c.Request().Context())
	return h.respond(c, s, err)
}

func (h *Handler) ShipProbiotics(c echo.Context) error {
	s, err := h.store.ShipProbiotics(c.Request().Context())
	return h.respond(c, s, err)
}

func (h *Handler) ListNotifications(c echo.Context) error {
	s, err := h.store.State(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	resp := pagination.NewResponse(s.Notifications.Page(pg.Limit, pg.Offset), len(s.Notifications), pg.Limit, pg.Offset)
	c.Response().Header().Set("X-Unread-Count", strconv.Itoa(s.Notifications.Unread()))
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) MarkNotificationRead(c echo.Context) error {
	s, err := h.store.MarkNotificationRead(c.Request().Context(), c.Param("id"))
	return h.respond(c, s, err)
}

func (h *Handler) ResetSimulation(c echo.Context) error {
	s, err := h.store.ResetSimulation(c.Request().Context())
	return h.respond(c, s, err)
}
