package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arshealth/keygate/internal/observability"
)

// DefaultEnvPrefix is the default prefix for environment variable secrets.
const DefaultEnvPrefix = "KEYGATE_SECRET_"

// EnvProviderConfig holds configuration for the environment variable provider.
type EnvProviderConfig struct {
	// Prefix is the prefix for environment variables. Default: "KEYGATE_SECRET_".
	Prefix string
	// Logger is the logger instance.
	Logger observability.Logger
}

// EnvProvider implements the Provider interface using environment variables.
// Path "PEPPER" maps to env var "{PREFIX}PEPPER". JSON-encoded values are
// parsed into multiple keys; anything else is stored under "value".
type EnvProvider struct {
	prefix string
	logger observability.Logger
}

// NewEnvProvider creates a new environment variable secrets provider.
func NewEnvProvider(cfg *EnvProviderConfig) (*EnvProvider, error) {
	if cfg == nil {
		cfg = &EnvProviderConfig{}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &EnvProvider{
		prefix: prefix,
		logger: logger,
	}, nil
}

// Type returns the provider type.
func (p *EnvProvider) Type() ProviderType {
	return ProviderTypeEnv
}

// normalizeEnvName converts a secret path to an environment variable name:
// uppercase, with dashes, dots and slashes replaced by underscores.
func (p *EnvProvider) normalizeEnvName(path string) string {
	name := strings.ToUpper(path)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "/", "_")

	return p.prefix + name
}

// GetSecret retrieves a secret from environment variables.
func (p *EnvProvider) GetSecret(_ context.Context, path string) (*Secret, error) {
	start := time.Now()

	if path == "" {
		RecordOperation(p.Type(), "get", time.Since(start), ErrInvalidPath)
		return nil, ErrInvalidPath
	}

	envName := p.normalizeEnvName(path)

	value, exists := os.LookupEnv(envName)
	if !exists {
		p.logger.Debug("environment variable not found",
			observability.String("envVar", envName),
		)
		RecordOperation(p.Type(), "get", time.Since(start), ErrSecretNotFound)
		return nil, fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, envName)
	}

	data := parseSecretValue(value)

	RecordOperation(p.Type(), "get", time.Since(start), nil)

	return &Secret{
		Name: path,
		Data: data,
		Metadata: map[string]string{
			"source":  "environment",
			"env_var": envName,
		},
	}, nil
}

// parseSecretValue parses a raw secret value. JSON objects become
// multi-key secrets; everything else lands under "value".
func parseSecretValue(value string) map[string][]byte {
	data := make(map[string][]byte)

	var jsonData map[string]interface{}
	if err := json.Unmarshal([]byte(value), &jsonData); err == nil {
		for k, v := range jsonData {
			switch val := v.(type) {
			case string:
				data[k] = []byte(val)
			default:
				if encoded, err := json.Marshal(val); err == nil {
					data[k] = encoded
				}
			}
		}
		if len(data) > 0 {
			return data
		}
	}

	data["value"] = []byte(value)
	return data
}

// HealthCheck always succeeds; the process environment is always reachable.
func (p *EnvProvider) HealthCheck(_ context.Context) error {
	RecordHealthStatus(p.Type(), true)
	return nil
}

// Close is a no-op for the environment provider.
func (p *EnvProvider) Close() error {
	return nil
}
