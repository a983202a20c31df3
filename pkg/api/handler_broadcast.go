package api

import (
	"encoding/json"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/botfabrik/botfabrik/pkg/services"
)

// createBroadcastHandler handles POST /bots/:id/broadcasts.
func (s *Server) createBroadcastHandler(c *echo.Context) error {
	var input services.CreateBroadcastInput
	if err := json.NewDecoder(c.Request().Body).Decode(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	b, err := s.deps.Broadcast.Create(c.Request().Context(), c.Param("id"), input)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

// listBroadcastsHandler handles GET /bots/:id/broadcasts.
func (s *Server) listBroadcastsHandler(c *echo.Context) error {
	list, err := s.deps.Broadcast.List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if list == nil {
		list = []*services.Broadcast{}
	}
	return c.JSON(http.StatusOK, list)
}

// getBroadcastHandler handles GET /bots/:id/broadcasts/:broadcast_id. Live
// counters: a running broadcast reports its progress so far.
func (s *Server) getBroadcastHandler(c *echo.Context) error {
	b, err := s.deps.Broadcast.Get(c.Request().Context(), c.Param("id"), c.Param("broadcast_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, b)
}
