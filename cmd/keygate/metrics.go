package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arshealth/keygate/internal/observability"
)

// newMetricsServer builds the metrics/probe listener. The validator keeps
// its metrics in a dedicated registry, so the endpoint gathers it alongside
// the default one.
func newMetricsServer(app *application) *http.Server {
	cfg := app.config.Metrics

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if app.apikeyMetrics != nil {
		gatherers = append(gatherers, app.apikeyMetrics.Registry())
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.Handle("/health", app.health.HTTPHandler())
	mux.Handle("/ready", app.health.ReadinessHTTPHandler())
	mux.Handle("/live", app.health.LivenessHTTPHandler())

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// startMetricsServer starts the metrics listener when enabled and returns
// it for graceful shutdown, or nil when disabled.
func startMetricsServer(app *application, logger observability.Logger) *http.Server {
	if !app.config.Metrics.Enabled {
		return nil
	}

	srv := newMetricsServer(app)

	logger.Info("starting metrics server",
		observability.String("address", srv.Addr),
		observability.String("metrics_path", app.config.Metrics.Path),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", observability.Error(err))
		}
	}()

	return srv
}

// stopMetricsServer shuts the metrics listener down gracefully.
func stopMetricsServer(ctx context.Context, srv *http.Server, logger observability.Logger) {
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("failed to stop metrics server", observability.Error(err))
	}
}
