package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/botfabrik/botfabrik/pkg/engine"
	"github.com/botfabrik/botfabrik/pkg/services"
	"github.com/botfabrik/botfabrik/pkg/telegram"
)

// webhookHandler handles POST /tg/:bot_id. It always answers 200: the
// upstream retries forever on non-2xx, and a poison update must not wedge
// the whole webhook.
func (s *Server) webhookHandler(c *echo.Context) error {
	start := time.Now()
	defer func() { s.deps.Metrics.ObserveWebhookLatency(time.Since(start)) }()

	ok := func() error { return c.JSON(http.StatusOK, map[string]any{"ok": true}) }

	botID := c.Param("bot_id")
	ctx := c.Request().Context()

	var upd telegram.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&upd); err != nil {
		slog.Warn("Webhook body rejected", "bot_id", botID, "error", err)
		return ok()
	}
	if upd.UserID() == 0 {
		return ok()
	}

	bot, err := s.deps.Bots.Get(ctx, botID)
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			slog.Error("Webhook bot lookup failed", "bot_id", botID, "error", err)
		}
		return ok()
	}
	if bot.Status != services.BotStatusActive {
		return ok()
	}

	if err := s.deps.Users.Touch(ctx, bot.ID, upd.UserID()); err != nil {
		slog.Warn("Failed to record user activity", "bot_id", bot.ID, "error", err)
	}

	reply := s.deps.Engine.HandleUpdate(ctx, engineBot(bot), &upd)
	if reply != nil && bot.Token != "" {
		s.send(ctx, bot, upd.ChatID(), upd.UserID(), *reply)
	}
	return ok()
}

// send delivers a reply, downgrading a blocked recipient to inactive so
// broadcasts skip them.
func (s *Server) send(ctx context.Context, bot *services.Bot, chatID, userID int64, reply telegram.Reply) {
	err := s.deps.Sender.Send(ctx, bot.Token, chatID, reply)
	if err == nil {
		return
	}
	if errors.Is(err, telegram.ErrBlocked) {
		if markErr := s.deps.Users.MarkInactive(ctx, bot.ID, userID); markErr != nil {
			slog.Warn("Failed to mark user inactive", "bot_id", bot.ID, "error", markErr)
		}
		return
	}
	slog.Error("Failed to deliver reply", "bot_id", bot.ID, "chat_id", chatID, "error", err)
}

// engineBot maps a bot record to the tenant frame the engine runs under.
func engineBot(bot *services.Bot) engine.Bot {
	return engine.Bot{
		ID:         bot.ID,
		LLMEnabled: bot.LLMEnabled,
		LLMPreset:  bot.LLMPreset,
		LLMBudget:  bot.DailyBudgetLimit,
	}
}

type previewRequest struct {
	BotID  string `json:"bot_id"`
	Text   string `json:"text"`
	UserID int64  `json:"user_id"`
}

type previewResponse struct {
	BotReply string            `json:"bot_reply"`
	Keyboard telegram.Keyboard `json:"keyboard,omitempty"`
}

// previewHandler handles POST /preview/send: one synchronous update through
// the full engine, reply returned to the caller instead of a chat. Nothing
// is sent upstream; the reply only travels back in the response body.
func (s *Server) previewHandler(c *echo.Context) error {
	var req previewRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if req.BotID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "bot_id is required")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	ctx := c.Request().Context()
	bot, err := s.deps.Bots.Get(ctx, req.BotID)
	if err != nil {
		if isUnavailable(err) {
			s.deps.Metrics.IncError(req.BotID, "db", codeDBUnavailable)
		}
		return mapServiceError(err)
	}

	upd := &telegram.Update{
		Message: &telegram.Message{
			Text: req.Text,
			From: &telegram.User{ID: req.UserID},
			Chat: &telegram.Chat{ID: req.UserID},
		},
	}

	reply := s.deps.Engine.HandleUpdate(ctx, engineBot(bot), upd)
	resp := previewResponse{}
	if reply != nil {
		resp.BotReply = reply.Text
		resp.Keyboard = reply.Keyboard
	}
	return c.JSON(http.StatusOK, resp)
}
