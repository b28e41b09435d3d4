// Package secrets provides a unified interface for sourcing the
// key-hash pepper and other service secrets from environment variables,
// local files, or HashiCorp Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arshealth/keygate/internal/config"
	"github.com/arshealth/keygate/internal/observability"
)

// ProviderType represents the type of secrets provider.
type ProviderType string

const (
	// ProviderTypeEnv uses environment variables as the backend.
	ProviderTypeEnv ProviderType = "env"
	// ProviderTypeFile uses local files as the backend.
	ProviderTypeFile ProviderType = "file"
	// ProviderTypeVault uses HashiCorp Vault as the backend.
	ProviderTypeVault ProviderType = "vault"
)

// Common errors for secrets providers.
var (
	// ErrSecretNotFound is returned when a secret is not found.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrProviderNotConfigured is returned when the provider is not properly configured.
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrInvalidPath is returned when the secret path is invalid.
	ErrInvalidPath = errors.New("invalid secret path")
	// ErrInvalidProviderType is returned when an unknown provider type is specified.
	ErrInvalidProviderType = errors.New("invalid provider type")
)

// Secret represents a secret with key-value data.
type Secret struct {
	// Name is the path the secret was loaded from.
	Name string
	// Data contains the secret key-value pairs.
	Data map[string][]byte
	// Metadata contains additional metadata about the secret.
	Metadata map[string]string
}

// GetString returns a string value from the secret data.
func (s *Secret) GetString(key string) (string, bool) {
	if s == nil || s.Data == nil {
		return "", false
	}
	v, ok := s.Data[key]
	if !ok {
		return "", false
	}
	return string(v), true
}

// Provider is the interface for secrets providers.
type Provider interface {
	// Type returns the provider type.
	Type() ProviderType

	// GetSecret retrieves a secret by path. Path format depends on the
	// provider:
	// - env:   "SECRET_NAME" maps to an env var with the configured prefix
	// - file:  "secret-name" maps to base-path/secret-name(/|.yaml|.json)
	// - vault: "path/to/secret" under the configured KV v2 mount
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// HealthCheck checks provider connectivity.
	HealthCheck(ctx context.Context) error

	// Close cleans up provider resources.
	Close() error
}

// GetValue fetches a secret and returns the value stored under key.
// Providers that hold scalar secrets expose them under the "value" key.
func GetValue(ctx context.Context, p Provider, path, key string) (string, error) {
	secret, err := p.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}
	if v, ok := secret.GetString(key); ok {
		return v, nil
	}
	if v, ok := secret.GetString("value"); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: key %q not present in secret %q", ErrSecretNotFound, key, path)
}

// New creates a secrets provider from configuration.
func New(cfg *config.SecretsConfig, logger observability.Logger) (Provider, error) {
	if cfg == nil {
		return nil, ErrProviderNotConfigured
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Provider {
	case config.SecretsProviderEnv:
		return NewEnvProvider(&EnvProviderConfig{
			Prefix: cfg.EnvPrefix,
			Logger: logger,
		})
	case config.SecretsProviderFile:
		return NewFileProvider(&FileProviderConfig{
			BasePath: cfg.FilePath,
			Logger:   logger,
		})
	case config.SecretsProviderVault:
		return NewVaultProvider(&VaultProviderConfig{
			Address:    cfg.Vault.Address,
			AuthMethod: cfg.Vault.AuthMethod,
			Token:      cfg.Vault.Token,
			RoleID:     cfg.Vault.RoleID,
			SecretID:   cfg.Vault.SecretID,
			MountPath:  cfg.Vault.MountPath,
			Timeout:    cfg.Vault.Timeout.Duration(),
			MaxRetries: cfg.Vault.MaxRetries,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderType, cfg.Provider)
	}
}

// Prometheus metrics for secrets provider operations.
var (
	secretsOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keygate",
			Subsystem: "secrets",
			Name:      "operation_duration_seconds",
			Help:      "Duration of secrets provider operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "result"},
	)

	secretsOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "secrets",
			Name:      "operations_total",
			Help:      "Total number of secrets provider operations",
		},
		[]string{"provider", "operation", "result"},
	)

	secretsProviderHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keygate",
			Subsystem: "secrets",
			Name:      "provider_healthy",
			Help:      "Whether the secrets provider is healthy (1) or not (0)",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(
		secretsOperationDuration,
		secretsOperationsTotal,
		secretsProviderHealth,
	)
}

// RecordOperation records metrics for a secrets provider operation.
func RecordOperation(provider ProviderType, operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	secretsOperationDuration.WithLabelValues(string(provider), operation, result).Observe(duration.Seconds())
	secretsOperationsTotal.WithLabelValues(string(provider), operation, result).Inc()
}

// RecordHealthStatus records the health status of a provider.
func RecordHealthStatus(provider ProviderType, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	secretsProviderHealth.WithLabelValues(string(provider)).Set(value)
}
