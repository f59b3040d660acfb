package api

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/bedtime/internal/ratelimit"
	"github.com/user/bedtime/internal/types"
)

const requestIDKey = "request_id"

// RequestIDMiddleware tags every request with an id of the form "req_a1b2c3d4"
// and echoes it in the X-Request-ID header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := string(types.NewRequestID())
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// LoggingMiddleware writes one access log record per request.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= 500 {
			slog.Error("request completed", attrs...)
			return
		}
		slog.Info("request completed", attrs...)
	}
}

// limit admits the request under class for the caller's IP or answers 429.
func (s *Server) limit(class ratelimit.Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter.Admit(class, c.ClientIP()) {
			c.Next()
			return
		}
		wait := s.limiter.RetryAfter(class)
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeError(c, fmt.Errorf("%w: too many %s requests, try again later", types.ErrRateLimited, class))
	}
}
