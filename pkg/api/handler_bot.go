package api

import (
	"encoding/json"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/botfabrik/botfabrik/pkg/services"
)

// createBotHandler handles POST /bots.
func (s *Server) createBotHandler(c *echo.Context) error {
	var input services.CreateBotInput
	if err := json.NewDecoder(c.Request().Body).Decode(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	bot, err := s.deps.Bots.Create(c.Request().Context(), input)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, bot)
}

// listBotsHandler handles GET /bots.
func (s *Server) listBotsHandler(c *echo.Context) error {
	bots, err := s.deps.Bots.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	if bots == nil {
		bots = []*services.Bot{}
	}
	return c.JSON(http.StatusOK, bots)
}

// getBotHandler handles GET /bots/:id.
func (s *Server) getBotHandler(c *echo.Context) error {
	bot, err := s.deps.Bots.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, bot)
}

// updateBotHandler handles PUT /bots/:id. Absent fields stay unchanged.
func (s *Server) updateBotHandler(c *echo.Context) error {
	var input services.UpdateBotInput
	if err := json.NewDecoder(c.Request().Body).Decode(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	bot, err := s.deps.Bots.Update(c.Request().Context(), c.Param("id"), input)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, bot)
}

// deleteBotHandler handles DELETE /bots/:id.
func (s *Server) deleteBotHandler(c *echo.Context) error {
	botID := c.Param("id")
	if err := s.deps.Bots.Delete(c.Request().Context(), botID); err != nil {
		return mapServiceError(err)
	}
	s.deps.SpecCache.Invalidate(botID)
	s.deps.I18n.Invalidate(botID)
	return c.JSON(http.StatusOK, map[string]any{"deleted": true})
}

type budgetResponse struct {
	BotID          string  `json:"bot_id"`
	DailyLimit     int64   `json:"daily_limit"`
	CurrentUsage   int64   `json:"current_usage"`
	Remaining      int64   `json:"remaining"`
	PercentageUsed float64 `json:"percentage_used"`
}

// getBudgetHandler handles GET /bots/:id/budget.
func (s *Server) getBudgetHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	bot, err := s.deps.Bots.Get(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	var usage int64
	if s.deps.LLM != nil {
		usage, err = s.deps.LLM.BudgetUsage(ctx, bot.ID)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "budget counter unavailable")
		}
	}

	resp := budgetResponse{
		BotID:        bot.ID,
		DailyLimit:   bot.DailyBudgetLimit,
		CurrentUsage: usage,
	}
	if bot.DailyBudgetLimit > 0 {
		resp.Remaining = max(bot.DailyBudgetLimit-usage, 0)
		resp.PercentageUsed = float64(usage) / float64(bot.DailyBudgetLimit) * 100
	}
	return c.JSON(http.StatusOK, resp)
}

type putBudgetRequest struct {
	DailyBudgetLimit int64 `json:"daily_budget_limit"`
}

// putBudgetHandler handles PUT /bots/:id/budget.
func (s *Server) putBudgetHandler(c *echo.Context) error {
	var req putBudgetRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	bot, err := s.deps.Bots.SetBudget(c.Request().Context(), c.Param("id"), req.DailyBudgetLimit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, bot)
}
