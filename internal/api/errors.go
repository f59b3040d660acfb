package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/bedtime/internal/types"
)

// statusFor maps an error category onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, types.ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError aborts the request with {"error", "message"}. Internal errors
// are logged and their detail is not sent to the client.
func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "request_id", c.GetString(requestIDKey), "path", c.Request.URL.Path, "error", err)
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": msg})
}
