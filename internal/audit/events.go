package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAuthentication EventType = "authentication"
	EventTypeAuthorization  EventType = "authorization"
	EventTypeRateLimit      EventType = "rate_limit"
	EventTypeLifecycle      EventType = "lifecycle"
	EventTypeConfiguration  EventType = "configuration"
)

// Action represents the action being audited.
type Action string

// Common actions.
const (
	// Authentication actions
	ActionKeyValidate Action = "key_validate"

	// Authorization actions
	ActionAccess Action = "access"
	ActionDeny   Action = "deny"

	// Rate limit actions
	ActionRateLimitExceeded Action = "rate_limit_exceeded"

	// Lifecycle actions
	ActionKeyCreate     Action = "key_create"
	ActionKeyUpdate     Action = "key_update"
	ActionKeyRotate     Action = "key_rotate"
	ActionKeyDeactivate Action = "key_deactivate"

	// Configuration actions
	ActionConfigReload Action = "config_reload"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Level represents the audit log level.
type Level string

// Audit log levels.
const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents an audit event.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Action is the action being audited.
	Action Action `json:"action"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// Level is the audit level.
	Level Level `json:"level"`

	// Subject is the entity the action concerns.
	Subject *Subject `json:"subject,omitempty"`

	// Resource is the resource being accessed.
	Resource *Resource `json:"resource,omitempty"`

	// Reason names the failure or denial reason.
	Reason string `json:"reason,omitempty"`

	// Metadata contains additional metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// TraceID is the trace ID for distributed tracing.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID is the span ID for distributed tracing.
	SpanID string `json:"span_id,omitempty"`

	// Duration is how long the action took.
	Duration time.Duration `json:"duration,omitempty"`
}

// Subject identifies the key and caller an event concerns. It carries
// the record id and displayable prefix; never the plaintext or digest.
type Subject struct {
	// KeyID is the key record identifier.
	KeyID string `json:"key_id,omitempty"`

	// OwnerID identifies who the key was issued to.
	OwnerID string `json:"owner_id,omitempty"`

	// KeyPrefix is the displayable leading fragment of the key.
	KeyPrefix string `json:"key_prefix,omitempty"`

	// Actor is the management principal performing a lifecycle action.
	Actor string `json:"actor,omitempty"`

	// IPAddress is the client IP address.
	IPAddress string `json:"ip_address,omitempty"`

	// UserAgent is the client user agent.
	UserAgent string `json:"user_agent,omitempty"`

	// AuthMethod is the authentication method used.
	AuthMethod string `json:"auth_method,omitempty"`
}

// Resource represents the resource being accessed.
type Resource struct {
	// Type is the type of resource.
	Type string `json:"type,omitempty"`

	// ID is the resource identifier.
	ID string `json:"id,omitempty"`

	// Path is the request path.
	Path string `json:"path,omitempty"`

	// Method is the HTTP method.
	Method string `json:"method,omitempty"`
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
		Level:     LevelInfo,
	}
}

// WithSubject sets the subject.
func (e *Event) WithSubject(subject *Subject) *Event {
	e.Subject = subject
	return e
}

// WithResource sets the resource.
func (e *Event) WithResource(resource *Resource) *Event {
	e.Resource = resource
	return e
}

// WithReason sets the failure or denial reason.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithMetadata adds metadata to the event.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDuration sets the duration.
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.Duration = duration
	return e
}

// WithLevel sets the audit level.
func (e *Event) WithLevel(level Level) *Event {
	e.Level = level
	return e
}

// AuthenticationEvent creates an authentication audit event.
func AuthenticationEvent(outcome Outcome, reason string, subject *Subject) *Event {
	event := NewEvent(EventTypeAuthentication, ActionKeyValidate, outcome).
		WithSubject(subject).
		WithReason(reason)
	if outcome != OutcomeSuccess {
		event.Level = LevelWarn
	}
	return event
}

// AuthorizationEvent creates an authorization audit event.
func AuthorizationEvent(outcome Outcome, subject *Subject, resource *Resource) *Event {
	action := ActionAccess
	level := LevelInfo
	if outcome == OutcomeDenied {
		action = ActionDeny
		level = LevelWarn
	}
	return NewEvent(EventTypeAuthorization, action, outcome).
		WithSubject(subject).
		WithResource(resource).
		WithLevel(level)
}

// RateLimitEvent creates a rate-limit denial audit event.
func RateLimitEvent(subject *Subject, limit int, retryAfter time.Duration) *Event {
	return NewEvent(EventTypeRateLimit, ActionRateLimitExceeded, OutcomeDenied).
		WithSubject(subject).
		WithLevel(LevelWarn).
		WithMetadata("limit", limit).
		WithMetadata("retry_after_seconds", int(retryAfter.Seconds()))
}

// LifecycleEvent creates a key lifecycle audit event.
func LifecycleEvent(action Action, outcome Outcome, subject *Subject) *Event {
	return NewEvent(EventTypeLifecycle, action, outcome).
		WithSubject(subject)
}
