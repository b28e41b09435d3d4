package audit

import (
	"fmt"
)

// Output and format defaults.
const (
	DefaultOutput     = "stdout"
	DefaultFormat     = "json"
	DefaultBufferSize = 1024
)

// Config represents the audit logging configuration.
type Config struct {
	// Enabled enables audit logging.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Output specifies the output destination (stdout, stderr, file path).
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// Format specifies the output format (json, text).
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// BufferSize is the event buffer size. Events beyond it are dropped.
	BufferSize int `yaml:"bufferSize,omitempty" json:"bufferSize,omitempty"`

	// Events configures which event types to audit.
	Events *EventsConfig `yaml:"events,omitempty" json:"events,omitempty"`

	// RedactFields specifies metadata fields to redact from events.
	RedactFields []string `yaml:"redactFields,omitempty" json:"redactFields,omitempty"`
}

// EventsConfig toggles auditing per event type. Nil pointers default
// to enabled.
type EventsConfig struct {
	Authentication *bool `yaml:"authentication,omitempty" json:"authentication,omitempty"`
	Authorization  *bool `yaml:"authorization,omitempty" json:"authorization,omitempty"`
	RateLimit      *bool `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	Lifecycle      *bool `yaml:"lifecycle,omitempty" json:"lifecycle,omitempty"`
	Configuration  *bool `yaml:"configuration,omitempty" json:"configuration,omitempty"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		Output:     DefaultOutput,
		Format:     DefaultFormat,
		BufferSize: DefaultBufferSize,
		RedactFields: []string{
			"authorization", "cookie", "token", "secret", "api_key", "password",
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.GetEffectiveFormat() {
	case formatJSON, formatText:
	default:
		return fmt.Errorf("invalid audit format %q: must be json or text", c.Format)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("audit buffer size must not be negative")
	}
	return nil
}

// GetEffectiveOutput returns the output destination, defaulted.
func (c *Config) GetEffectiveOutput() string {
	if c.Output == "" {
		return DefaultOutput
	}
	return c.Output
}

// GetEffectiveFormat returns the output format, defaulted.
func (c *Config) GetEffectiveFormat() string {
	if c.Format == "" {
		return DefaultFormat
	}
	return c.Format
}

// GetEffectiveBufferSize returns the buffer size, defaulted.
func (c *Config) GetEffectiveBufferSize() int {
	if c.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return c.BufferSize
}

// enabled reports whether the toggle is on, defaulting nil to true.
func enabled(b *bool) bool {
	return b == nil || *b
}

// ShouldAuditAuthentication reports whether authentication events are audited.
func (c *Config) ShouldAuditAuthentication() bool {
	if c.Events == nil {
		return true
	}
	return enabled(c.Events.Authentication)
}

// ShouldAuditAuthorization reports whether authorization events are audited.
func (c *Config) ShouldAuditAuthorization() bool {
	if c.Events == nil {
		return true
	}
	return enabled(c.Events.Authorization)
}

// ShouldAuditRateLimit reports whether rate-limit events are audited.
func (c *Config) ShouldAuditRateLimit() bool {
	if c.Events == nil {
		return true
	}
	return enabled(c.Events.RateLimit)
}

// ShouldAuditLifecycle reports whether lifecycle events are audited.
func (c *Config) ShouldAuditLifecycle() bool {
	if c.Events == nil {
		return true
	}
	return enabled(c.Events.Lifecycle)
}

// ShouldAuditConfiguration reports whether configuration events are audited.
func (c *Config) ShouldAuditConfiguration() bool {
	if c.Events == nil {
		return true
	}
	return enabled(c.Events.Configuration)
}
