// Package main is the entry point for the keygate service.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/arshealth/keygate/internal/config"
	"github.com/arshealth/keygate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath    string
	logLevel      string
	logFormat     string
	listen        string
	metricsListen string
	showVersion   bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags, logger)

	app, err := initApplication(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", observability.Error(err))
	}

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags with environment variable fallbacks.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("KEYGATE_CONFIG", "configs/keygate.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("KEYGATE_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("KEYGATE_LOG_FORMAT", "json"),
		"Log format (json, console)")
	listen := flag.String("listen", getEnvOrDefault("KEYGATE_LISTEN", ""),
		"Override the server listen address (host:port)")
	metricsListen := flag.String("metrics-listen", getEnvOrDefault("KEYGATE_METRICS_LISTEN", ""),
		"Override the metrics listen address (host:port)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:    *configPath,
		logLevel:      *logLevel,
		logFormat:     *logFormat,
		listen:        *listen,
		metricsListen: *metricsListen,
		showVersion:   *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("keygate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the global logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads the configuration file and applies flag
// overrides.
func loadAndValidateConfig(flags cliFlags, logger observability.Logger) *config.Config {
	logger.Info("starting keygate",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := applyListenOverrides(cfg, flags); err != nil {
		logger.Fatal("invalid listen override", observability.Error(err))
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("store", cfg.Store.Type),
		observability.Bool("rate_limit", cfg.RateLimit.Enabled),
		observability.String("rate_limit_store", cfg.RateLimit.Store),
		observability.String("secrets_provider", cfg.Secrets.Provider),
		observability.String("hash_algorithm", cfg.Auth.HashAlgorithm),
	)

	return cfg
}

// applyListenOverrides applies -listen and -metrics-listen to the loaded
// configuration.
func applyListenOverrides(cfg *config.Config, flags cliFlags) error {
	if flags.listen != "" {
		host, port, err := splitListenAddr(flags.listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}

	if flags.metricsListen != "" {
		host, port, err := splitListenAddr(flags.metricsListen)
		if err != nil {
			return fmt.Errorf("metrics-listen: %w", err)
		}
		cfg.Metrics.Host = host
		cfg.Metrics.Port = port
	}

	return nil
}

// splitListenAddr parses a host:port listen address. The host part may be
// empty, meaning all interfaces.
func splitListenAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	if host == "" {
		host = "0.0.0.0"
	}

	return host, port, nil
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
