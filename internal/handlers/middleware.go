package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
)

// RequestIDHeader carries the correlation id in and out of the API.
const RequestIDHeader = "X-Request-Id"

// RequestID reuses the caller's X-Request-Id or assigns a new one, echoes it
// back and stores it on the request context for logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog writes one record per request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds())
	}
}

// writeError answers with the failure shape, status taken from the error kind.
func writeError(c *gin.Context, prefix string, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "error", err, "kind", kind)
	} else {
		slog.WarnContext(ctx, "request rejected", "error", err, "kind", kind)
	}
	c.JSON(errorResponse(prefix, err))
}

// errorResponse is the status and failure body writeError sends for err.
func errorResponse(prefix string, err error) (int, gin.H) {
	kind := apperr.KindOf(err)
	return apperr.HTTPStatus(kind), gin.H{
		"success": false,
		"error":   kind,
		"message": prefix + apperr.Message(err),
	}
}
