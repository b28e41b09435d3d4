package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/arshealth/keygate/internal/observability"
)

// Vault auth methods.
const (
	VaultAuthToken   = "token"
	VaultAuthAppRole = "approle"
)

// VaultProviderConfig holds configuration for the Vault secrets provider.
type VaultProviderConfig struct {
	// Address is the Vault server address.
	Address string
	// AuthMethod is the authentication method (token, approle).
	AuthMethod string
	// Token is the Vault token for token auth.
	Token string
	// RoleID is the AppRole role ID.
	RoleID string
	// SecretID is the AppRole secret ID.
	SecretID string
	// MountPath is the KV v2 secrets engine mount point. Default: "secret".
	MountPath string
	// Timeout is the request timeout.
	Timeout time.Duration
	// MaxRetries is the maximum number of request retries.
	MaxRetries int
	// Logger is the logger instance.
	Logger observability.Logger
}

// VaultProvider implements the Provider interface using HashiCorp Vault's
// KV v2 secrets engine.
type VaultProvider struct {
	client    *vault.Client
	mountPath string
	logger    observability.Logger
}

// NewVaultProvider creates a new Vault secrets provider and authenticates
// the client.
func NewVaultProvider(cfg *VaultProviderConfig) (*VaultProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderNotConfigured)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	mountPath := cfg.MountPath
	if mountPath == "" {
		mountPath = "secret"
	}

	clientConfig := vault.DefaultConfig()
	clientConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		clientConfig.Timeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		clientConfig.MaxRetries = cfg.MaxRetries
	}

	client, err := vault.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	p := &VaultProvider{
		client:    client,
		mountPath: mountPath,
		logger:    logger,
	}

	if err := p.authenticate(cfg); err != nil {
		return nil, err
	}

	logger.Info("vault secrets provider initialized",
		observability.String("address", cfg.Address),
		observability.String("authMethod", cfg.AuthMethod),
		observability.String("mountPath", mountPath),
	)

	return p, nil
}

// authenticate logs the client in with the configured auth method.
func (p *VaultProvider) authenticate(cfg *VaultProviderConfig) error {
	switch cfg.AuthMethod {
	case VaultAuthToken, "":
		if cfg.Token == "" {
			return fmt.Errorf("%w: token auth requires a token", ErrProviderNotConfigured)
		}
		p.client.SetToken(cfg.Token)
		return nil

	case VaultAuthAppRole:
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return fmt.Errorf("%w: approle auth requires roleID and secretID", ErrProviderNotConfigured)
		}
		secret, err := p.client.Logical().Write("auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("approle login failed: %w", err)
		}
		if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
			return fmt.Errorf("approle login returned no client token")
		}
		p.client.SetToken(secret.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("%w: unsupported vault auth method %q", ErrProviderNotConfigured, cfg.AuthMethod)
	}
}

// Type returns the provider type.
func (p *VaultProvider) Type() ProviderType {
	return ProviderTypeVault
}

// GetSecret retrieves a secret from the KV v2 engine.
func (p *VaultProvider) GetSecret(ctx context.Context, path string) (*Secret, error) {
	start := time.Now()

	if path == "" {
		RecordOperation(p.Type(), "get", time.Since(start), ErrInvalidPath)
		return nil, ErrInvalidPath
	}

	kvSecret, err := p.client.KVv2(p.mountPath).Get(ctx, path)
	if err != nil {
		RecordOperation(p.Type(), "get", time.Since(start), err)
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		return nil, fmt.Errorf("failed to read vault secret %s: %w", path, err)
	}
	if kvSecret == nil || len(kvSecret.Data) == 0 {
		RecordOperation(p.Type(), "get", time.Since(start), ErrSecretNotFound)
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}

	data := make(map[string][]byte, len(kvSecret.Data))
	for k, v := range kvSecret.Data {
		switch val := v.(type) {
		case string:
			data[k] = []byte(val)
		default:
			data[k] = []byte(fmt.Sprintf("%v", val))
		}
	}

	metadata := map[string]string{
		"source": "vault",
		"mount":  p.mountPath,
	}
	if kvSecret.VersionMetadata != nil {
		metadata["version"] = fmt.Sprintf("%d", kvSecret.VersionMetadata.Version)
	}

	RecordOperation(p.Type(), "get", time.Since(start), nil)

	return &Secret{
		Name:     path,
		Data:     data,
		Metadata: metadata,
	}, nil
}

// HealthCheck checks Vault server health.
func (p *VaultProvider) HealthCheck(ctx context.Context) error {
	health, err := p.client.Sys().HealthWithContext(ctx)
	if err != nil {
		RecordHealthStatus(p.Type(), false)
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		RecordHealthStatus(p.Type(), false)
		return fmt.Errorf("vault is sealed")
	}
	RecordHealthStatus(p.Type(), true)
	return nil
}

// Close clears the client token.
func (p *VaultProvider) Close() error {
	p.client.ClearToken()
	return nil
}
