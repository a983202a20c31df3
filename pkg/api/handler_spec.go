package api

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/events"
)

// maxSpecBytes bounds an uploaded spec document.
const maxSpecBytes = 1 << 20

type validationResponse struct {
	OK     bool        `json:"ok"`
	Errors []dsl.Issue `json:"errors,omitempty"`
}

func readSpecBody(c *echo.Context) (json.RawMessage, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSpecBytes))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if len(raw) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "spec body is required")
	}
	return raw, nil
}

// getSpecHandler handles GET /bots/:id/spec. Query param "version" selects a
// historic revision; absent means latest.
func (s *Server) getSpecHandler(c *echo.Context) error {
	version := 0
	if v := c.QueryParam("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid version")
		}
		version = n
	}

	spec, err := s.deps.Specs.Get(c.Request().Context(), c.Param("id"), version)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, spec)
}

// putSpecHandler handles PUT /bots/:id/spec: validate, store as the next
// version and signal every pod to reload.
func (s *Server) putSpecHandler(c *echo.Context) error {
	raw, err := readSpecBody(c)
	if err != nil {
		return err
	}

	botID := c.Param("id")
	if issues := s.deps.Specs.Validate(raw); len(issues) > 0 {
		return c.JSON(http.StatusUnprocessableEntity, validationResponse{Errors: issues})
	}

	published, err := s.deps.Specs.Publish(c.Request().Context(), botID, raw)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"bot_id":  botID,
		"version": published.Version,
		"stored":  true,
	})
}

// listSpecVersionsHandler handles GET /bots/:id/spec/versions.
func (s *Server) listSpecVersionsHandler(c *echo.Context) error {
	versions, err := s.deps.Specs.Versions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, versions)
}

// validateSpecHandler handles POST /bots/:id/validate: dry-run validation,
// nothing stored.
func (s *Server) validateSpecHandler(c *echo.Context) error {
	raw, err := readSpecBody(c)
	if err != nil {
		return err
	}

	issues := s.deps.Specs.Validate(raw)
	return c.JSON(http.StatusOK, validationResponse{OK: len(issues) == 0, Errors: issues})
}

// reloadHandler handles POST /bots/:id/reload: recompile locally and notify
// the other pods.
func (s *Server) reloadHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	botID := c.Param("id")

	compiled, err := s.deps.SpecCache.Reload(ctx, botID)
	if err != nil {
		return mapServiceError(err)
	}
	s.deps.I18n.Invalidate(botID)

	err = s.deps.DB.WithTx(ctx, 5*time.Second, func(tx *sql.Tx) error {
		return events.NotifyReload(ctx, tx, botID)
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"bot_id":   botID,
		"version":  compiled.Version,
		"reloaded": true,
	})
}

// purgeHandler handles DELETE /bots/:id/data.
func (s *Server) purgeHandler(c *echo.Context) error {
	botID := c.Param("id")
	result, err := s.deps.Purge.Purge(c.Request().Context(), botID)
	if err != nil {
		return mapServiceError(err)
	}
	s.deps.SpecCache.Invalidate(botID)
	s.deps.I18n.Invalidate(botID)
	return c.JSON(http.StatusOK, result)
}
