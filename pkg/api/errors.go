package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/brain-daemon/brain/pkg/store"
)

// envelope is the response shape every endpoint returns (spec.md §6):
// {status, data?} on success or {status, error:{code,message,details?}}
// on failure.
type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func ok(c *echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Status: "success", Data: data})
}

func fail(c *echo.Context, status int, code, message string, details any) error {
	return c.JSON(status, envelope{Status: "error", Error: &apiError{Code: code, Message: message, Details: details}})
}

// mapStoreError maps a store-layer error to a stable response code and
// HTTP status, logging anything unrecognized as unexpected.
func mapStoreError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fail(c, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, store.ErrQueueFull):
		return fail(c, http.StatusServiceUnavailable, "QUEUE_FULL", "job queue is at capacity", nil)
	case errors.Is(err, store.ErrStaleLease):
		return fail(c, http.StatusConflict, "STALE_LEASE", "job lease is no longer held", nil)
	}
	slog.Error("unexpected store error", "error", err)
	return fail(c, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}

// badRequest reports a malformed request body or query parameter.
func badRequest(c *echo.Context, message string) error {
	return fail(c, http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

// rateLimited reports a throttled request per spec.md §6: code
// RATE_LIMITED with details.retryAfter in seconds.
func rateLimited(c *echo.Context, retryAfterSeconds float64) error {
	return fail(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests",
		map[string]float64{"retryAfter": retryAfterSeconds})
}
