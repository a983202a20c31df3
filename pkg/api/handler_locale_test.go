package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestPutLocaleHandlerValidation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name string
		body string
		want string
	}{
		{"unsupported locale", `{"user_id":42,"locale":"de"}`, "unsupported locale"},
		{"both user and chat", `{"user_id":42,"chat_id":-100500,"locale":"ru"}`, "exactly one"},
		{"no target at all", `{"locale":"en"}`, "exactly one"},
		{"malformed body", "{", "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPut, "/bots/b1/locales", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.putLocaleHandler(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, tt.want)
				}
			}
		})
	}
}

func TestGetLocaleHandlerRejectsBadUserID(t *testing.T) {
	s := &Server{}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/bots/b1/locales/abc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.getLocaleHandler(c)
	if assert.Error(t, err) {
		he, ok := err.(*echo.HTTPError)
		if assert.True(t, ok, "expected echo.HTTPError") {
			assert.Equal(t, http.StatusBadRequest, he.Code)
			assert.Contains(t, he.Message, "user_id")
		}
	}
}

func TestPutI18nKeysHandlerValidation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty list", `[]`, "at least one key"},
		{"unsupported locale", `[{"locale":"jp","key":"promo","value":"x"}]`, "unsupported locale"},
		{"empty key", `[{"locale":"ru","key":"","value":"x"}]`, "key must not be empty"},
		{"malformed body", `{"locale":"ru"}`, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPut, "/bots/b1/i18n", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.putI18nKeysHandler(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, tt.want)
				}
			}
		})
	}
}
