package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/arshealth/keygate/internal/observability"
)

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	Logger           observability.Logger
	EnableStackTrace bool
}

// Recovery returns a middleware that converts panics into 500 responses
// with a stack trace in the log.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return RecoveryWithConfig(RecoveryConfig{
		Logger:           logger,
		EnableStackTrace: true,
	})
}

// RecoveryWithConfig returns a recovery middleware with custom configuration.
func RecoveryWithConfig(config RecoveryConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				fields := []observability.Field{
					observability.Any("error", err),
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
					observability.String("client_ip", c.ClientIP()),
				}
				if requestID := GetRequestID(c); requestID != "" {
					fields = append(fields, observability.String("request_id", requestID))
				}
				if config.EnableStackTrace {
					fields = append(fields, observability.String("stack", string(debug.Stack())))
				}

				config.Logger.Error("panic recovered", fields...)
				GetMiddlewareMetrics().RecordPanicRecovered()

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "an unexpected error occurred",
				})
			}
		}()

		c.Next()
	}
}
