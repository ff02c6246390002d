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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/eligibility/internal/config"
	"github.com/ehr/eligibility/internal/domain/eligibility"
	"github.com/ehr/eligibility/internal/domain/gateway"
	"github.com/ehr/eligibility/internal/domain/token"
	"github.com/ehr/eligibility/internal/platform/auth"
	"github.com/ehr/eligibility/internal/platform/db"
	"github.com/ehr/eligibility/internal/platform/hipaa"
	"github.com/ehr/eligibility/internal/platform/middleware"
	"github.com/ehr/eligibility/internal/platform/telemetry"
	"github.com/ehr/eligibility/internal/platform/uhc"
	"github.com/ehr/eligibility/internal/platform/websocket"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and eligibility API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cl cleanup
	defer cl.run()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if rdb != nil {
		cl.add(func() { rdb.Close() })
	}

	storage, err := openTokenStorage(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open token storage")
	}
	tokens := newTokenStack(ctx, cfg, storage, logger)

	store, err := openSearchStore(ctx, cfg, logger, &cl)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open search store")
	}

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open member card store")
	}

	upstream := uhc.New(uhc.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		OAuthURL:     cfg.OAuthURL,
		BaseURL:      cfg.APIBaseURL,
		Env:          cfg.UpstreamEnv,
		Timeout:      cfg.UpstreamTimeout,
	}, uhc.WithLogger(logger.With().Str("component", "upstream").Logger()))

	orch := eligibility.NewOrchestrator(tokens.manager, tokens.gateway, store.repo, blobs,
		logger.With().Str("component", "orchestrator").Logger())

	hub := websocket.NewHub(logger)
	hub.SetSnapshot(websocket.TopicToken, tokenSnapshot(tokens.cache))
	events, unsubscribe := tokens.cache.Subscribe(32)
	defer unsubscribe()
	go websocket.Forward(ctx, hub, websocket.TopicToken, events, tokenEventType)

	tel, err := telemetry.New(ctx, telemetry.Config{
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     cfg.OTLPInsecure,
		SampleRate:   cfg.TraceSampleRate,
	}, logger.With().Str("component", "telemetry").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start telemetry")
	}
	cl.add(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	})
	counted, stopCounting := tokens.cache.Subscribe(32)
	defer stopCounting()
	go telemetry.CountEvents(ctx, tel, counted, tokenEventType)

	e := newEcho(cfg, logger, tel, hipaa.NewRecorder(store.access))
	rl := middleware.RateLimit(rateLimitConfig(cfg, logger, rdb))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(store.health, store.driver))

	gateway.NewHandler(upstream, logger.With().Str("component", "gateway").Logger()).
		RegisterRoutes(e.Group("/api/uhc", rl))

	apiV1 := e.Group("/api/v1", rl)
	token.NewHandler(tokens.manager).RegisterRoutes(apiV1)
	eligibility.NewHandler(orch, store.repo).RegisterRoutes(apiV1)
	hipaa.NewAccessLogHandler(store.access).RegisterRoutes(apiV1)

	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("gateway", cfg.GatewayURL).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, tel *telemetry.Provider, recorders ...middleware.AuditRecorder) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(tel.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	e.Use(middleware.Audit(logger, recorders...))

	return e
}

// rateLimitConfig shares buckets across replicas through Redis when it is
// configured; otherwise each process limits on its own.
func rateLimitConfig(cfg *config.Config, logger zerolog.Logger, rdb *redis.Client) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	rl.Logger = logger
	if rdb != nil {
		rl.Store = middleware.NewRedisLimiterStore(rdb, "eligibility:ratelimit:", rl.RequestsPerSecond, rl.BurstSize)
	}
	return rl
}

func tokenEventType(ev token.Event) string {
	return "token." + string(ev.Kind)
}

// tokenSnapshot gives new subscribers the current token state.
func tokenSnapshot(cache *token.Cache) websocket.SnapshotFunc {
	return func() (websocket.Event, bool) {
		view := token.NewStatusView(cache.Status(), cache.Now())
		view.Token = ""
		ev, err := websocket.NewEvent(websocket.TopicToken, "token.status", view)
		return ev, err == nil
	}
}
