package api

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/services"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusBadRequest, codeValidationFailed},
		{http.StatusUnprocessableEntity, codeValidationFailed},
		{http.StatusNotFound, codeNotFound},
		{http.StatusConflict, codeAlreadyExists},
		{http.StatusServiceUnavailable, codeDBUnavailable},
		{http.StatusInternalServerError, codeInternal},
		{http.StatusTeapot, codeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(&echo.HTTPError{Code: tt.status}), "status %d", tt.status)
	}
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation error", services.NewValidationError("name", "must not be empty"), http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("bot lookup: %w", services.ErrNotFound), http.StatusNotFound},
		{"already exists", services.ErrAlreadyExists, http.StatusConflict},
		{"invalid input", services.ErrInvalidInput, http.StatusBadRequest},
		{"disabled bot", services.ErrDisabled, http.StatusConflict},
		{"bad connection", driver.ErrBadConn, http.StatusServiceUnavailable},
		{"deadline exceeded", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"network failure", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.want, he.Code)
		})
	}
}

func TestMapServiceErrorKeepsValidationMessage(t *testing.T) {
	he := mapServiceError(services.NewValidationError("throttle_per_sec", "must be between 1 and 100"))
	assert.Equal(t, http.StatusBadRequest, he.Code)
	assert.Contains(t, he.Message, "throttle_per_sec")
}

func TestErrorHandler(t *testing.T) {
	s := &Server{}

	t.Run("http error renders the envelope", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/bots/missing", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		s.errorHandler(c, echo.NewHTTPError(http.StatusNotFound, "resource not found"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var env errorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, codeNotFound, env.Error.Code)
		assert.Equal(t, "resource not found", env.Error.Message)
		assert.NotEmpty(t, env.Error.TraceID)
	})

	t.Run("unknown error becomes an internal 500", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/bots", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		s.errorHandler(c, errors.New("pq: relation exploded"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var env errorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, codeInternal, env.Error.Code)
		assert.Equal(t, "internal server error", env.Error.Message)
		assert.NotContains(t, env.Error.Message, "exploded")
	})

	t.Run("keeps the request trace", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/bots", nil)
		ctx, trace := events.WithTrace(req.Context())
		req = req.WithContext(ctx)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		s.errorHandler(c, echo.NewHTTPError(http.StatusBadRequest, "bad input"))

		var env errorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, trace, env.Error.TraceID)
	})
}
