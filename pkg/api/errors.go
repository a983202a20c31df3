package api

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	echo "github.com/labstack/echo/v5"

	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/services"
)

// Error codes carried in the response envelope.
const (
	codeValidationFailed = "validation_failed"
	codeNotFound         = "not_found"
	codeAlreadyExists    = "already_exists"
	codeDisabled         = "bot_disabled"
	codeDBUnavailable    = "db_unavailable"
	codeInternal         = "internal"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// errorHandler renders every handler error as the stable envelope
// {error: {code, message, trace_id}}.
func (s *Server) errorHandler(c *echo.Context, err error) {
	he := &echo.HTTPError{Code: http.StatusInternalServerError, Message: "internal server error"}
	if !errors.As(err, &he) {
		slog.Error("Unhandled request error", "path", c.Path(), "error", err)
	}

	trace := events.Trace(c.Request().Context())
	if trace == "" {
		trace = uuid.NewString()
	}

	body := errorEnvelope{Error: errorBody{
		Code:    errorCode(he),
		Message: fmt.Sprint(he.Message),
		TraceID: trace,
	}}
	if writeErr := c.JSON(he.Code, body); writeErr != nil {
		slog.Error("Failed to write error response", "error", writeErr)
	}
}

// errorCode maps an HTTP status to the envelope code set.
func errorCode(he *echo.HTTPError) string {
	switch he.Code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return codeValidationFailed
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusConflict:
		return codeAlreadyExists
	case http.StatusServiceUnavailable:
		return codeDBUnavailable
	default:
		return codeInternal
	}
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid input")
	}
	if errors.Is(err, services.ErrDisabled) {
		return echo.NewHTTPError(http.StatusConflict, "bot is disabled")
	}
	if isUnavailable(err) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// isUnavailable reports transport-level database failures: the backend is
// unreachable rather than the request being wrong.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
