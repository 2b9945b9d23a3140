package assistant

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gmtcc/insight/internal/domain/journey"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the assistant endpoints. mw is applied to every route;
// the server passes its rate limiter here.
func (h *Handler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.POST("/chat", h.Chat, mw...)
	g.GET("/insights", h.Insights, mw...)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, journey.ErrNoLabResults):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, journey.ErrPersistence):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

type chatRequest struct {
	History []Message `json:"history"`
	Message string    `json:"message"`
}

func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reply, err := h.svc.Chat(c.Request().Context(), req.History, req.Message)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reply)
}

func (h *Handler) Insights(c echo.Context) error {
	reply, err := h.svc.Insights(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reply)
}
