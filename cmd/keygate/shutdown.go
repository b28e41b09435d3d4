package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arshealth/keygate/internal/config"
	"github.com/arshealth/keygate/internal/observability"
)

// run starts the HTTP and metrics servers, watches the configuration file,
// and blocks until a shutdown signal arrives.
func run(app *application, configPath string, logger observability.Logger) {
	go func() {
		if err := app.server.Start(); err != nil {
			logger.Fatal("server error", observability.Error(err))
		}
	}()

	metricsServer := startMetricsServer(app, logger)
	watcher := startConfigWatcher(configPath, logger)

	waitForShutdown(app, metricsServer, watcher, logger)
}

// startConfigWatcher watches the configuration file. Reloads apply the
// dynamic subset (log level); everything else requires a restart.
func startConfigWatcher(configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed",
			observability.String("log_level", newCfg.Logging.Level))
		if err := logger.SetLevel(newCfg.Logging.Level); err != nil {
			logger.Error("failed to apply log level", observability.Error(err))
		}
	}, config.WithWatcherLogger(logger))

	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
	}

	return watcher
}

// waitForShutdown blocks until SIGINT/SIGTERM and closes components in
// reverse start order within the configured drain window.
func waitForShutdown(
	app *application,
	metricsServer *http.Server,
	watcher *config.Watcher,
	logger observability.Logger,
) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		app.config.Server.ShutdownTimeout.Duration(),
	)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	stopMetricsServer(shutdownCtx, metricsServer, logger)

	app.clientLimiter.Stop()

	if err := app.limiter.Close(); err != nil {
		logger.Error("failed to close rate limiter", observability.Error(err))
	}

	if err := app.audit.Close(); err != nil {
		logger.Error("failed to close audit logger", observability.Error(err))
	}

	if err := app.store.Close(shutdownCtx); err != nil {
		logger.Error("failed to close record store", observability.Error(err))
	}

	if err := app.secrets.Close(); err != nil {
		logger.Error("failed to close secrets provider", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("keygate stopped")
}
