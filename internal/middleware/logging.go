package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arshealth/keygate/internal/observability"
)

// RequestID returns a middleware that assigns each request an ID. An inbound
// X-Request-ID is reused so IDs survive proxy hops; otherwise one is
// generated. The ID is echoed on the response and propagated through the
// request context for log correlation.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(ContextKeyRequestID, requestID)
		c.Header(HeaderXRequestID, requestID)

		ctx := observability.ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetRequestID returns the request ID from the gin context.
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(ContextKeyRequestID); exists {
		if requestID, ok := id.(string); ok {
			return requestID
		}
	}
	return ""
}

// LoggingConfig holds configuration for the logging middleware.
type LoggingConfig struct {
	Logger    observability.Logger
	SkipPaths []string
}

// Logging returns a middleware that logs completed requests, one line per
// request, leveled by response status.
func Logging(logger observability.Logger) gin.HandlerFunc {
	return LoggingWithConfig(LoggingConfig{Logger: logger})
}

// LoggingWithConfig returns a logging middleware with custom configuration.
func LoggingWithConfig(config LoggingConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skipPaths[path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []observability.Field{
			observability.String("request_id", GetRequestID(c)),
			observability.String("method", c.Request.Method),
			observability.String("path", path),
			observability.Int("status", status),
			observability.Duration("latency", time.Since(start)),
			observability.String("client_ip", c.ClientIP()),
			observability.String("user_agent", c.Request.UserAgent()),
			observability.Int("body_size", c.Writer.Size()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, observability.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			config.Logger.Error("request completed", fields...)
		case status >= 400:
			config.Logger.Warn("request completed", fields...)
		default:
			config.Logger.Info("request completed", fields...)
		}
	}
}
