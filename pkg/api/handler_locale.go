package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/botfabrik/botfabrik/pkg/i18n"
)

type putLocaleRequest struct {
	UserID int64  `json:"user_id"`
	ChatID int64  `json:"chat_id"`
	Locale string `json:"locale"`
}

// putLocaleHandler handles PUT /bots/:id/locales: upsert a user- or
// chat-level locale preference. Exactly one of user_id and chat_id is set.
func (s *Server) putLocaleHandler(c *echo.Context) error {
	var req putLocaleRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if !i18n.DefaultSettings().Supports(req.Locale) {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported locale: "+req.Locale)
	}
	if (req.UserID == 0) == (req.ChatID == 0) {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of user_id and chat_id is required")
	}

	ctx := c.Request().Context()
	botID := c.Param("id")

	var err error
	if req.UserID != 0 {
		err = s.deps.I18n.SetUserLocale(ctx, botID, req.UserID, req.Locale)
	} else {
		err = s.deps.I18n.SetChatLocale(ctx, botID, req.ChatID, req.Locale)
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"stored": true})
}

// getLocaleHandler handles GET /bots/:id/locales/:user_id: the effective
// locale after the full preference fallthrough.
func (s *Server) getLocaleHandler(c *echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}

	botID := c.Param("id")
	locale := s.deps.I18n.UserLocale(c.Request().Context(), botID, userID, 0, i18n.DefaultLocale)
	return c.JSON(http.StatusOK, map[string]any{
		"bot_id":  botID,
		"user_id": userID,
		"locale":  locale,
	})
}

type i18nKeyEntry struct {
	Locale string `json:"locale"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// putI18nKeysHandler handles PUT /bots/:id/i18n: bulk upsert of translation
// keys, grouped per locale.
func (s *Server) putI18nKeysHandler(c *echo.Context) error {
	var entries []i18nKeyEntry
	if err := json.NewDecoder(c.Request().Body).Decode(&entries); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if len(entries) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one key is required")
	}

	settings := i18n.DefaultSettings()
	byLocale := make(map[string]map[string]string)
	for _, e := range entries {
		if !settings.Supports(e.Locale) {
			return echo.NewHTTPError(http.StatusBadRequest, "unsupported locale: "+e.Locale)
		}
		if e.Key == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "key must not be empty")
		}
		if byLocale[e.Locale] == nil {
			byLocale[e.Locale] = make(map[string]string)
		}
		byLocale[e.Locale][e.Key] = e.Value
	}

	ctx := c.Request().Context()
	botID := c.Param("id")
	for locale, keys := range byLocale {
		if err := s.deps.I18n.SetKeys(ctx, botID, locale, keys); err != nil {
			return mapServiceError(err)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"stored": len(entries)})
}
