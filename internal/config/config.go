// Package config provides configuration management for keygate.
// Configuration is loaded from a YAML file with environment variable
// substitution; command-line flags in cmd/keygate override file values.
package config

import (
	"fmt"
	"time"
)

// Hash algorithms supported for key digests.
const (
	HashAlgorithmSHA256   = "sha256"
	HashAlgorithmArgon2id = "argon2id"
)

// Store types for the key record store.
const (
	StoreTypeMongo  = "mongo"
	StoreTypeMemory = "memory"
)

// Rate limit store types.
const (
	RateLimitStoreRedis  = "redis"
	RateLimitStoreMemory = "memory"
)

// Secrets provider types.
const (
	SecretsProviderEnv   = "env"
	SecretsProviderFile  = "file"
	SecretsProviderVault = "vault"
)

// DefaultRateLimitPerHour is the hourly quota applied to keys issued
// without an explicit one.
const DefaultRateLimitPerHour = 1000

// Config holds all configuration for the keygate service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Auth       AuthConfig       `yaml:"auth"`
	Management ManagementConfig `yaml:"management"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// MetricsConfig holds the metrics/health listener settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// StoreConfig holds the key record store settings.
type StoreConfig struct {
	Type    string        `yaml:"type"`
	Mongo   MongoConfig   `yaml:"mongo"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI              string   `yaml:"uri"`
	Database         string   `yaml:"database"`
	Collection       string   `yaml:"collection"`
	ConnectTimeout   Duration `yaml:"connectTimeout"`
	OperationTimeout Duration `yaml:"operationTimeout"`
}

// BreakerConfig holds circuit breaker settings for the record store.
type BreakerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	FailureThreshold int      `yaml:"failureThreshold"`
	OpenTimeout      Duration `yaml:"openTimeout"`
}

// RedisConfig holds Redis connection settings shared by the rate limit
// window store and the optional record cache.
type RedisConfig struct {
	Address      string   `yaml:"address"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	PoolSize     int      `yaml:"poolSize"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// RateLimitConfig holds rate limiter settings. Window is the fixed
// window duration; per-key quotas live on the key records themselves.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"`
	Store   string   `yaml:"store"`
	Window  Duration `yaml:"window"`
}

// AuthConfig holds validation gateway settings.
type AuthConfig struct {
	HashAlgorithm           string      `yaml:"hashAlgorithm"`
	KeyPrefix               string      `yaml:"keyPrefix"`
	Header                  string      `yaml:"header"`
	AllowBearer             bool        `yaml:"allowBearer"`
	QueryParam              string      `yaml:"queryParam"`
	DefaultRateLimitPerHour int         `yaml:"defaultRateLimitPerHour"`
	Cache                   CacheConfig `yaml:"cache"`
}

// CacheConfig holds the validated-record cache settings. The cache is
// coherent within a single process only; deactivation and rotation purge
// entries locally, so multi-instance deployments should leave it disabled.
type CacheConfig struct {
	Enabled    bool     `yaml:"enabled"`
	TTL        Duration `yaml:"ttl"`
	MaxEntries int      `yaml:"maxEntries"`
}

// ManagementConfig holds management-plane authentication settings.
type ManagementConfig struct {
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`
	ClientRPS   int    `yaml:"clientRPS"`
	ClientBurst int    `yaml:"clientBurst"`
}

// SecretsConfig holds secrets provider settings. The provider supplies
// the key-hash pepper and the management token signing secret.
type SecretsConfig struct {
	Provider     string      `yaml:"provider"`
	EnvPrefix    string      `yaml:"envPrefix"`
	FilePath     string      `yaml:"filePath"`
	Vault        VaultConfig `yaml:"vault"`
	PepperPath   string      `yaml:"pepperPath"`
	TokenKeyPath string      `yaml:"tokenKeyPath"`
}

// VaultConfig holds HashiCorp Vault settings.
type VaultConfig struct {
	Address    string   `yaml:"address"`
	AuthMethod string   `yaml:"authMethod"`
	Token      string   `yaml:"token"`
	RoleID     string   `yaml:"roleID"`
	SecretID   string   `yaml:"secretID"`
	MountPath  string   `yaml:"mountPath"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"maxRetries"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SampleRate   float64 `yaml:"sampleRate"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Output     string `yaml:"output"`
	BufferSize int    `yaml:"bufferSize"`
}

// DefaultConfig returns a Config populated with defaults. Loading YAML
// over this value leaves unspecified fields at their defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9090,
			Path:    "/metrics",
		},
		Store: StoreConfig{
			Type: StoreTypeMongo,
			Mongo: MongoConfig{
				URI:              "mongodb://localhost:27017",
				Database:         "keygate",
				Collection:       "api_keys",
				ConnectTimeout:   Duration(10 * time.Second),
				OperationTimeout: Duration(5 * time.Second),
			},
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeout:      Duration(30 * time.Second),
			},
		},
		Redis: RedisConfig{
			Address:      "localhost:6379",
			DB:           0,
			PoolSize:     10,
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(3 * time.Second),
			WriteTimeout: Duration(3 * time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Store:   RateLimitStoreRedis,
			Window:  Duration(time.Hour),
		},
		Auth: AuthConfig{
			HashAlgorithm:           HashAlgorithmSHA256,
			KeyPrefix:               "ars_",
			Header:                  "X-API-Key",
			AllowBearer:             true,
			DefaultRateLimitPerHour: DefaultRateLimitPerHour,
			Cache: CacheConfig{
				Enabled:    false,
				TTL:        Duration(30 * time.Second),
				MaxEntries: 10000,
			},
		},
		Management: ManagementConfig{
			Issuer:      "keygate",
			Audience:    "keygate-management",
			ClientRPS:   10,
			ClientBurst: 20,
		},
		Secrets: SecretsConfig{
			Provider:     SecretsProviderEnv,
			EnvPrefix:    "KEYGATE_SECRET_",
			PepperPath:   "pepper",
			TokenKeyPath: "management_token_key",
			Vault: VaultConfig{
				AuthMethod: "token",
				MountPath:  "secret",
				Timeout:    Duration(10 * time.Second),
				MaxRetries: 3,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 0.1,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Output:     "stdout",
			BufferSize: 1024,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validatePort(c.Server.Port, "server.port"); err != nil {
		return err
	}
	if c.Metrics.Enabled {
		if err := validatePort(c.Metrics.Port, "metrics.port"); err != nil {
			return err
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics.port must differ from server.port")
		}
	}

	switch c.Store.Type {
	case StoreTypeMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri is required")
		}
		if c.Store.Mongo.Database == "" {
			return fmt.Errorf("store.mongo.database is required")
		}
	case StoreTypeMemory:
	default:
		return fmt.Errorf("store.type must be %q or %q, got %q",
			StoreTypeMongo, StoreTypeMemory, c.Store.Type)
	}

	if c.Store.Breaker.Enabled && c.Store.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("store.breaker.failureThreshold must be positive")
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Store {
		case RateLimitStoreRedis:
			if c.Redis.Address == "" {
				return fmt.Errorf("redis.address is required for the redis rate limit store")
			}
		case RateLimitStoreMemory:
		default:
			return fmt.Errorf("rateLimit.store must be %q or %q, got %q",
				RateLimitStoreRedis, RateLimitStoreMemory, c.RateLimit.Store)
		}
		if c.RateLimit.Window.Duration() <= 0 {
			return fmt.Errorf("rateLimit.window must be positive")
		}
	}

	switch c.Auth.HashAlgorithm {
	case HashAlgorithmSHA256, HashAlgorithmArgon2id:
	default:
		return fmt.Errorf("auth.hashAlgorithm must be %q or %q, got %q",
			HashAlgorithmSHA256, HashAlgorithmArgon2id, c.Auth.HashAlgorithm)
	}
	if c.Auth.KeyPrefix == "" {
		return fmt.Errorf("auth.keyPrefix is required")
	}
	if c.Auth.Header == "" {
		return fmt.Errorf("auth.header is required")
	}
	if c.Auth.DefaultRateLimitPerHour <= 0 {
		return fmt.Errorf("auth.defaultRateLimitPerHour must be positive")
	}
	if c.Auth.Cache.Enabled && c.Auth.Cache.TTL.Duration() <= 0 {
		return fmt.Errorf("auth.cache.ttl must be positive when the cache is enabled")
	}

	if c.Management.ClientRPS <= 0 {
		return fmt.Errorf("management.clientRPS must be positive")
	}

	switch c.Secrets.Provider {
	case SecretsProviderEnv:
	case SecretsProviderFile:
		if c.Secrets.FilePath == "" {
			return fmt.Errorf("secrets.filePath is required for the file provider")
		}
	case SecretsProviderVault:
		if c.Secrets.Vault.Address == "" {
			return fmt.Errorf("secrets.vault.address is required for the vault provider")
		}
	default:
		return fmt.Errorf("secrets.provider must be %q, %q or %q, got %q",
			SecretsProviderEnv, SecretsProviderFile, SecretsProviderVault, c.Secrets.Provider)
	}
	if c.Secrets.PepperPath == "" {
		return fmt.Errorf("secrets.pepperPath is required")
	}

	return nil
}

func validatePort(port int, field string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", field, port)
	}
	return nil
}
