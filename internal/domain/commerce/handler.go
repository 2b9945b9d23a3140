package commerce

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/gmtcc/insight/internal/domain/journey"
	"github.com/gmtcc/insight/internal/platform/webhook"
)

type Handler struct {
	svc      *Service
	router   *OrderRouter
	receipts *webhook.Receipts
	secret   string
	logger   zerolog.Logger
}

func NewHandler(svc *Service, router *OrderRouter, receipts *webhook.Receipts, secret string, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, router: router, receipts: receipts, secret: secret, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/products", h.ListProducts)
	g.POST("/cart", h.CreateCart)
	g.GET("/orders", h.ListOrders)
	g.GET("/customers", h.GetCustomer)
	g.GET("/customers/overview", h.GetCustomerOverview)
	g.POST("/webhooks/commerce", h.HandleWebhook, webhook.RequireSignature(h.secret))
}

// RegisterRedirect mounts GET /cart/:path, which forwards to the store's own
// cart page.
func (h *Handler) RegisterRedirect(e *echo.Echo) {
	e.GET("/cart/:path", h.RedirectCart)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCartRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCustomerNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "commerce provider unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) ListProducts(c echo.Context) error {
	products, err := h.svc.Products(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"products": products})
}

type cartRequest struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) CreateCart(c echo.Context) error {
	var req cartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cart, err := h.svc.CreateCart(c.Request().Context(), req.VariantID, req.Quantity)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) ListOrders(c echo.Context) error {
	orders, err := h.svc.Orders(c.Request().Context(), c.QueryParam("email"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"orders": orders})
}

func requireEmail(c echo.Context) (string, error) {
	email := strings.TrimSpace(c.QueryParam("email"))
	if email == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "email parameter required")
	}
	return email, nil
}

func (h *Handler) GetCustomer(c echo.Context) error {
	email, err := requireEmail(c)
	if err != nil {
		return err
	}
	cust, err := h.svc.Customer(c.Request().Context(), email)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"customer": cust})
}

func (h *Handler) GetCustomerOverview(c echo.Context) error {
	email, err := requireEmail(c)
	if err != nil {
		return err
	}
	ov, err := h.svc.CustomerOverview(c.Request().Context(), email)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ov)
}

func (h *Handler) RedirectCart(c echo.Context) error {
	target, err := h.svc.CartRedirect(c.Param("path"))
	if err != nil {
		return httpError(err)
	}
	return c.Redirect(http.StatusFound, target)
}

// HandleWebhook applies a verified order webhook. Redeliveries of an id that
// was already handled are acknowledged without being applied again.
func (h *Handler) HandleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read webhook body")
	}
	req := c.Request()
	id := req.Header.Get(webhook.HeaderWebhookID)
	topic := req.Header.Get(webhook.HeaderTopic)
	log := h.logger.With().Str("topic", topic).Str("webhook_id", id).Str("shop", req.Header.Get(webhook.HeaderShop)).Logger()

	if !h.receipts.FirstSeen(id) {
		log.Info().Msg("duplicate commerce webhook")
		return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
	}

	if err := h.router.Route(req.Context(), topic, body); err != nil {
		if errors.Is(err, ErrMalformedOrder) {
			log.Warn().Err(err).Msg("rejected commerce webhook")
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		// Let the store redeliver.
		h.receipts.Forget(id)
		log.Error().Err(err).Msg("commerce webhook not applied")
		if errors.Is(err, journey.ErrPersistence) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "journey state could not be saved, please retry")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "webhook failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}
