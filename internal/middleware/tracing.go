package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// SpanKey is the gin context key for the request span.
const SpanKey = "otel-span"

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
	ServiceName    string
	SkipPaths      []string
}

// Tracing returns a middleware that opens an OpenTelemetry server span per
// request, honoring inbound trace propagation headers.
func Tracing(serviceName string) gin.HandlerFunc {
	return TracingWithConfig(TracingConfig{ServiceName: serviceName})
}

// TracingWithConfig returns a tracing middleware with custom configuration.
func TracingWithConfig(config TracingConfig) gin.HandlerFunc {
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if config.Propagators == nil {
		config.Propagators = otel.GetTextMapPropagator()
	}
	if config.ServiceName == "" {
		config.ServiceName = "keygate"
	}

	tracer := config.TracerProvider.Tracer(config.ServiceName)

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

		ctx := config.Propagators.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", c.Request.Method, path),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.target", path),
			attribute.String("http.host", c.Request.Host),
			attribute.String("net.peer.ip", c.ClientIP()),
		)
		if requestID := GetRequestID(c); requestID != "" {
			span.SetAttributes(attribute.String("request.id", requestID))
		}

		c.Set(SpanKey, span)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if len(c.Errors) > 0 {
			span.RecordError(fmt.Errorf("%s", c.Errors.String()))
		}
	}
}

// GetSpan returns the request span from the gin context.
func GetSpan(c *gin.Context) trace.Span {
	if span, exists := c.Get(SpanKey); exists {
		if s, ok := span.(trace.Span); ok {
			return s
		}
	}
	return nil
}
