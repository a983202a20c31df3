package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

const healthProbeTimeout = 2 * time.Second

// healthHandler handles GET /health. Process liveness only; no dependency
// checks, so the orchestrator never restarts the pod over a sick backend.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// healthPGHandler handles GET /health/pg.
func (s *Server) healthPGHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthProbeTimeout)
	defer cancel()

	if _, err := s.deps.DB.Health(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"pg_ok": false})
	}
	return c.JSON(http.StatusOK, map[string]any{"pg_ok": true})
}

// healthDBHandler handles GET /health/db: the same probe as /health/pg plus
// connection pool statistics.
func (s *Server) healthDBHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthProbeTimeout)
	defer cancel()

	status, err := s.deps.DB.Health(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"db_ok": false, "pool": status})
	}
	return c.JSON(http.StatusOK, map[string]any{"db_ok": true, "pool": status})
}

// healthRedisHandler handles GET /health/redis.
func (s *Server) healthRedisHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthProbeTimeout)
	defer cancel()

	if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"redis_ok": false})
	}
	return c.JSON(http.StatusOK, map[string]any{"redis_ok": true})
}

// healthLLMHandler handles GET /health/llm. A disabled LLM is healthy: the
// runtime works without improvement.
func (s *Server) healthLLMHandler(c *echo.Context) error {
	if s.deps.LLM == nil || !s.deps.LLM.Enabled() {
		return c.JSON(http.StatusOK, map[string]any{"llm_ok": true, "llm_enabled": false})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), healthProbeTimeout)
	defer cancel()

	if err := s.deps.LLM.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"llm_ok": false, "llm_enabled": true})
	}
	return c.JSON(http.StatusOK, map[string]any{"llm_ok": true, "llm_enabled": true})
}
