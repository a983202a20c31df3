package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestBotHandlersRejectMalformedJSON(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name string
		call func(c *echo.Context) error
	}{
		{"create bot", s.createBotHandler},
		{"update bot", s.updateBotHandler},
		{"set budget", s.putBudgetHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/bots", strings.NewReader("{not json"))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := tt.call(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, "invalid JSON")
				}
			}
		})
	}
}
