// Package api is the HTTP surface: webhook ingest, the preview tester, bot
// and spec management, broadcasts, locales, health probes and the metrics
// exposition. Handlers stay thin; domain behavior lives in the services and
// the engine.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/botfabrik/botfabrik/pkg/config"
	"github.com/botfabrik/botfabrik/pkg/database"
	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/engine"
	"github.com/botfabrik/botfabrik/pkg/i18n"
	"github.com/botfabrik/botfabrik/pkg/llm"
	"github.com/botfabrik/botfabrik/pkg/metrics"
	"github.com/botfabrik/botfabrik/pkg/services"
	"github.com/botfabrik/botfabrik/pkg/telegram"
)

// Deps carries everything the handlers need. All fields are required unless
// noted.
type Deps struct {
	DB        *database.Client
	Redis     *redis.Client
	Bots      *services.BotService
	Users     *services.UserService
	Specs     *services.SpecService
	Broadcast *services.BroadcastService
	Purge     *services.PurgeService
	SpecCache *dsl.Cache
	I18n      *i18n.Resolver
	Engine    *engine.Engine
	LLM       *llm.Client
	Sender    telegram.Sender
	Metrics   *metrics.Recorder
}

// Server is the HTTP server.
type Server struct {
	cfg  *config.Config
	deps Deps

	echo *echo.Echo
	srv  *http.Server
}

// NewServer builds the router and wires all routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}

	e := echo.New()
	e.HTTPErrorHandler = s.errorHandler
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/health/pg", s.healthPGHandler)
	e.GET("/health/db", s.healthDBHandler)
	e.GET("/health/redis", s.healthRedisHandler)
	e.GET("/health/llm", s.healthLLMHandler)

	e.POST("/tg/:bot_id", s.webhookHandler)
	e.POST("/preview/send", s.previewHandler)

	e.POST("/bots", s.createBotHandler)
	e.GET("/bots", s.listBotsHandler)
	e.GET("/bots/:id", s.getBotHandler)
	e.PUT("/bots/:id", s.updateBotHandler)
	e.DELETE("/bots/:id", s.deleteBotHandler)
	e.GET("/bots/:id/budget", s.getBudgetHandler)
	e.PUT("/bots/:id/budget", s.putBudgetHandler)

	e.GET("/bots/:id/spec", s.getSpecHandler)
	e.PUT("/bots/:id/spec", s.putSpecHandler)
	e.GET("/bots/:id/spec/versions", s.listSpecVersionsHandler)
	e.POST("/bots/:id/validate", s.validateSpecHandler)
	e.POST("/bots/:id/reload", s.reloadHandler)
	e.DELETE("/bots/:id/data", s.purgeHandler)

	e.POST("/bots/:id/broadcasts", s.createBroadcastHandler)
	e.GET("/bots/:id/broadcasts", s.listBroadcastsHandler)
	e.GET("/bots/:id/broadcasts/:broadcast_id", s.getBroadcastHandler)

	e.PUT("/bots/:id/locales", s.putLocaleHandler)
	e.GET("/bots/:id/locales/:user_id", s.getLocaleHandler)
	e.PUT("/bots/:id/i18n", s.putI18nKeysHandler)

	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		)))
	}

	s.echo = e
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.echo}
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
