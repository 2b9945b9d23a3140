package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/gmtcc/insight/internal/config"
	"github.com/gmtcc/insight/internal/domain/assistant"
	"github.com/gmtcc/insight/internal/domain/commerce"
	"github.com/gmtcc/insight/internal/domain/journey"
	"github.com/gmtcc/insight/internal/platform/db"
	"github.com/gmtcc/insight/internal/platform/middleware"
	"github.com/gmtcc/insight/internal/platform/notification"
	"github.com/gmtcc/insight/internal/platform/realtime"
	"github.com/gmtcc/insight/internal/platform/telemetry"
	"github.com/gmtcc/insight/internal/platform/webhook"
	"github.com/gmtcc/insight/internal/platform/websocket"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the journey API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "insight",
		ServiceVersion: version,
		Environment:    cfg.Env,
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       !cfg.IsProduction(),
		SampleRatio:    cfg.OTelSamplerRatio,
	}, logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics := telemetry.NewMetrics()
	dispatcher, err := newDispatcher(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer wireStore(a.store, metrics, dispatcher)()

	hub := websocket.NewHub(logger)
	var bus realtime.Bus = realtime.NewLocalBus()
	if a.redis != nil {
		bus = realtime.NewRedisBus(a.redis, cfg.RedisChannel, logger)
	}
	detach, err := realtime.Bridge(ctx, a.store, bus, hub, logger)
	if err != nil {
		return err
	}
	defer detach()
	defer bus.Close()

	e := newServer(ctx, a, hub, metrics, dispatcher)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("storage", cfg.StorageDriver).Str("policy", cfg.Policy).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(sctx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
		if dispatcher != nil {
			dispatcher.Wait()
		}
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("server stopped")
	return err
}

// wireStore attaches the in-process observers of committed transitions:
// the transition counter and, when delivery is enabled, the dispatcher.
func wireStore(store *journey.Store, metrics *telemetry.Metrics, dispatcher *notification.Dispatcher) (detach func()) {
	unsubs := []func(){
		store.Subscribe(func(e journey.Event) { metrics.Transition(string(e.Action)) }),
	}
	if dispatcher != nil {
		unsubs = append(unsubs, store.Subscribe(func(e journey.Event) { dispatcher.Notify(e.Notifications) }))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// newServer builds the HTTP surface over an opened app.
func newServer(ctx context.Context, a *app, hub *websocket.Hub, metrics *telemetry.Metrics, dispatcher *notification.Dispatcher) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(telemetry.TracingMiddleware(otel.Tracer("github.com/gmtcc/insight/http")))
	e.Use(metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"storage": cfg.StorageDriver,
		})
	})
	if p := a.storagePinger(); p != nil {
		if a.pool != nil {
			e.GET("/health/db", db.PoolHealthHandler(a.pool))
		} else {
			e.GET("/health/db", db.HealthHandler(p, nil))
		}
	}
	e.GET("/metrics", metrics.Handler())

	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	api := e.Group("/api/v1")
	journey.NewHandler(a.store).RegisterRoutes(api.Group("/journey"))

	commerceHandler := newCommerceHandler(cfg, a.store, metrics, logger)
	commerceHandler.RegisterRoutes(api)
	commerceHandler.RegisterRedirect(e)

	newAssistantHandler(ctx, cfg, a.store, metrics, logger).
		RegisterRoutes(api.Group("/assistant"), middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	if dispatcher != nil {
		notification.NewDeliveryHandler(dispatcher).RegisterRoutes(api)
	}
	return e
}

func newCommerceHandler(cfg *config.Config, store *journey.Store, metrics *telemetry.Metrics, logger zerolog.Logger) *commerce.Handler {
	log := logger.With().Str("component", "commerce").Logger()

	var provider commerce.Provider = commerce.DisabledProvider{}
	if cfg.ShopifyEnabled() {
		client, err := commerce.NewShopifyClient(commerce.ShopifyConfig{
			StoreDomain:     cfg.ShopifyStoreDomain,
			AccessToken:     cfg.ShopifyAccessToken,
			StorefrontToken: cfg.ShopifyStorefrontToken,
			APIVersion:      cfg.ShopifyAPIVersion,
			Timeout:         cfg.ProviderTimeout,
		})
		if err != nil {
			log.Warn().Err(err).Msg("shopify disabled")
		} else {
			provider = client
		}
	} else {
		log.Info().Msg("shopify credentials not set, storefront uses fallbacks")
	}

	svc := commerce.NewService(provider, cfg.ShopifyStoreDomain,
		commerce.WithTimeout(cfg.ProviderTimeout),
		commerce.WithRecorder(metrics),
		commerce.WithLogger(log),
	)
	router := commerce.NewOrderRouter(store, commerce.SKUMap{
		TestOnly:   cfg.SKUTestOnly,
		Bundle:     cfg.SKUBundle,
		Upgrade:    cfg.SKUUpgrade,
		Probiotics: cfg.SKUProbiotics,
	}, log)
	return commerce.NewHandler(svc, router, webhook.NewReceipts(24*time.Hour), cfg.ShopifyWebhookSecret, log)
}

func newAssistantHandler(ctx context.Context, cfg *config.Config, store *journey.Store, metrics *telemetry.Metrics, logger zerolog.Logger) *assistant.Handler {
	log := logger.With().Str("component", "assistant").Logger()

	var provider assistant.Provider = assistant.DisabledProvider{}
	if cfg.GeminiAPIKey != "" {
		gp, err := assistant.NewGeminiProvider(ctx, assistant.GeminiConfig{
			APIKey:        cfg.GeminiAPIKey,
			InsightsModel: cfg.GeminiInsightsModel,
			ChatModel:     cfg.GeminiChatModel,
		})
		if err != nil {
			log.Warn().Err(err).Msg("gemini disabled")
		} else {
			provider = gp
		}
	}

	svc := assistant.NewService(provider, store,
		assistant.WithTimeout(cfg.ProviderTimeout),
		assistant.WithRecorder(metrics),
		assistant.WithLogger(log),
	)
	return assistant.NewHandler(svc)
}

// newDispatcher wires outbound delivery per NOTIFY_DELIVERY. It returns nil
// for "none".
func newDispatcher(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) (*notification.Dispatcher, error) {
	to := notification.Recipients{Email: cfg.NotifyEmail, Phone: cfg.NotifyPhone, Chat: cfg.NotifyChat}
	opts := []notification.DispatcherOption{
		notification.WithTimeout(cfg.ProviderTimeout * 2),
		notification.WithDeliveryHook(metrics.Delivery),
	}

	switch cfg.NotifyDelivery {
	case "none":
		return nil, nil
	case "log":
		sink := notification.LogSender{Logger: logger.With().Str("component", "notification-sink").Logger()}
		// The log sink has no real addresses to deliver to.
		if to.Email == "" {
			to.Email = "profile@localhost"
		}
		if to.Phone == "" {
			to.Phone = "profile"
		}
		if to.Chat == "" {
			to.Chat = "profile"
		}
		opts = append(opts, notification.WithEmailSender(sink), notification.WithSMSSender(sink), notification.WithChatSender(sink))
	case "remote":
		if cfg.TwilioAccountSID != "" {
			tw, err := notification.NewTwilioSender(notification.TwilioConfig{
				AccountSID:   cfg.TwilioAccountSID,
				AuthToken:    cfg.TwilioAuthToken,
				FromNumber:   cfg.TwilioFromNumber,
				WhatsAppFrom: cfg.TwilioWhatsAppFrom,
			})
			if err != nil {
				return nil, err
			}
			opts = append(opts, notification.WithSMSSender(tw), notification.WithChatSender(tw))
		}
		if cfg.SendGridAPIKey != "" {
			sg, err := notification.NewSendGridSender(notification.SendGridConfig{
				APIKey:    cfg.SendGridAPIKey,
				FromEmail: cfg.SendGridFromEmail,
				FromName:  cfg.SendGridFromName,
			})
			if err != nil {
				return nil, err
			}
			opts = append(opts, notification.WithEmailSender(sg))
		}
	}
	return notification.NewDispatcher(to, logger, opts...), nil
}
