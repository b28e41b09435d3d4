package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/arshealth/keygate/internal/observability"
)

// Constants for audit logging.
const (
	redactedValue = "[REDACTED]"
	formatJSON    = "json"
	formatText    = "text"
)

// Logger is the audit logger interface.
type Logger interface {
	// LogEvent logs an audit event.
	LogEvent(ctx context.Context, event *Event)

	// LogAuthentication logs an authentication decision.
	LogAuthentication(ctx context.Context, outcome Outcome, reason string, subject *Subject)

	// LogAuthorization logs a permission decision.
	LogAuthorization(ctx context.Context, outcome Outcome, subject *Subject, resource *Resource)

	// LogRateLimit logs a rate-limit denial.
	LogRateLimit(ctx context.Context, subject *Subject, limit int, retryAfter time.Duration)

	// LogLifecycle logs a key lifecycle operation.
	LogLifecycle(ctx context.Context, action Action, outcome Outcome, subject *Subject)

	// Close drains buffered events and releases resources.
	Close() error
}

// logger implements the Logger interface with an asynchronous buffered
// writer. A single goroutine owns the output; LogEvent never blocks and
// drops events when the buffer is full.
type logger struct {
	config  *Config
	writer  io.Writer
	closer  io.Closer
	logger  observability.Logger
	metrics *Metrics

	events    chan *Event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal  *prometheus.CounterVec
	droppedTotal prometheus.Counter
}

// NewMetrics creates new audit metrics registered with the default
// registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates new audit metrics registered with
// the provided registerer. This allows the metrics to be registered
// with the service's custom registry so they appear on the /metrics
// endpoint.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "keygate"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "action", "outcome"},
		),
		droppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_dropped_total",
				Help:      "Total number of audit events dropped due to a full buffer",
			},
		),
	}

	// Register with the provided registerer, ignoring duplicate
	// registration errors (safe because descriptors are identical).
	_ = registerer.Register(m.eventsTotal)
	_ = registerer.Register(m.droppedTotal)

	m.Init()

	return m
}

// Init pre-populates common label combinations with zero values so
// that audit Vec metrics appear in /metrics output immediately after
// startup. Prometheus *Vec types only emit metric lines after
// WithLabelValues() is called at least once. This method is
// idempotent and safe to call multiple times.
func (m *Metrics) Init() {
	if m.eventsTotal == nil {
		return
	}

	combos := []struct {
		eventType EventType
		action    Action
	}{
		{EventTypeAuthentication, ActionKeyValidate},
		{EventTypeAuthorization, ActionAccess},
		{EventTypeAuthorization, ActionDeny},
		{EventTypeRateLimit, ActionRateLimitExceeded},
		{EventTypeLifecycle, ActionKeyCreate},
		{EventTypeLifecycle, ActionKeyDeactivate},
	}
	outcomes := []Outcome{OutcomeSuccess, OutcomeFailure, OutcomeDenied}

	for _, c := range combos {
		for _, o := range outcomes {
			m.eventsTotal.WithLabelValues(string(c.eventType), string(c.action), string(o))
		}
	}
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(eventType EventType, action Action, outcome Outcome) {
	if m.eventsTotal == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType), string(action), string(outcome)).Inc()
}

// RecordDropped records a dropped audit event.
func (m *Metrics) RecordDropped() {
	if m.droppedTotal == nil {
		return
	}
	m.droppedTotal.Inc()
}

// LoggerOption is a functional option for the logger.
type LoggerOption func(*logger)

// WithLoggerLogger sets the observability logger.
func WithLoggerLogger(l observability.Logger) LoggerOption {
	return func(lg *logger) {
		lg.logger = l
	}
}

// WithLoggerMetrics sets the metrics.
func WithLoggerMetrics(metrics *Metrics) LoggerOption {
	return func(lg *logger) {
		lg.metrics = metrics
	}
}

// WithLoggerWriter sets the writer.
func WithLoggerWriter(writer io.Writer) LoggerOption {
	return func(lg *logger) {
		lg.writer = writer
	}
}

// WithLoggerRegisterer sets the Prometheus registerer for audit
// metrics. When provided, audit metrics are registered with this
// registerer instead of the global default, ensuring they appear on
// the service's custom /metrics endpoint.
func WithLoggerRegisterer(registerer prometheus.Registerer) LoggerOption {
	return func(lg *logger) {
		lg.metrics = NewMetricsWithRegisterer("keygate", registerer)
	}
}

// NewLogger creates a new audit logger.
func NewLogger(config *Config, opts ...LoggerOption) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &logger{
		config: config,
		logger: observability.NopLogger(),
		events: make(chan *Event, config.GetEffectiveBufferSize()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	// Initialize metrics if not provided
	if l.metrics == nil {
		l.metrics = NewMetrics("keygate")
	}

	// Initialize writer if not provided
	if l.writer == nil {
		writer, closer, err := l.createWriter()
		if err != nil {
			return nil, err
		}
		l.writer = writer
		l.closer = closer
	}

	go l.run()

	return l, nil
}

// createWriter creates the output writer based on configuration.
func (l *logger) createWriter() (io.Writer, io.Closer, error) {
	output := l.config.GetEffectiveOutput()

	switch output {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		// Assume it's a file path - path comes from trusted configuration
		//nolint:gosec // G304: path from config is trusted
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// run consumes events until Close, then drains what is buffered.
func (l *logger) run() {
	defer close(l.done)

	for {
		select {
		case event := <-l.events:
			l.writeEvent(event)
		case <-l.quit:
			for {
				select {
				case event := <-l.events:
					l.writeEvent(event)
				default:
					return
				}
			}
		}
	}
}

// LogEvent logs an audit event.
func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if !l.config.Enabled || event == nil {
		return
	}

	// Check if this event type should be audited
	if !l.shouldAudit(event) {
		return
	}

	// Extract trace context
	if event.TraceID == "" {
		event.TraceID = extractTraceID(ctx)
	}
	if event.SpanID == "" {
		event.SpanID = extractSpanID(ctx)
	}

	// Redact sensitive metadata
	l.redactMetadata(event)

	// Record metrics
	l.metrics.RecordEvent(event.Type, event.Action, event.Outcome)

	select {
	case <-l.quit:
		return
	default:
	}

	select {
	case l.events <- event:
	default:
		l.dropped.Add(1)
		l.metrics.RecordDropped()
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (l *logger) Dropped() int64 {
	return l.dropped.Load()
}

// shouldAudit checks if an event should be audited based on configuration.
func (l *logger) shouldAudit(event *Event) bool {
	switch event.Type {
	case EventTypeAuthentication:
		return l.config.ShouldAuditAuthentication()
	case EventTypeAuthorization:
		return l.config.ShouldAuditAuthorization()
	case EventTypeRateLimit:
		return l.config.ShouldAuditRateLimit()
	case EventTypeLifecycle:
		return l.config.ShouldAuditLifecycle()
	case EventTypeConfiguration:
		return l.config.ShouldAuditConfiguration()
	default:
		return true
	}
}

// redactMetadata redacts sensitive metadata fields.
func (l *logger) redactMetadata(event *Event) {
	if event.Metadata == nil || len(l.config.RedactFields) == 0 {
		return
	}
	for key := range event.Metadata {
		if l.shouldRedact(key) {
			event.Metadata[key] = redactedValue
		}
	}
}

// shouldRedact checks if a field should be redacted.
func (l *logger) shouldRedact(field string) bool {
	lowerField := strings.ToLower(field)
	for _, redactField := range l.config.RedactFields {
		if strings.EqualFold(redactField, lowerField) {
			return true
		}
		// Check for partial match
		if strings.Contains(lowerField, strings.ToLower(redactField)) {
			return true
		}
	}
	return false
}

// writeEvent writes the event to the output. Only the run goroutine
// calls this.
func (l *logger) writeEvent(event *Event) {
	var output []byte
	var err error

	switch l.config.GetEffectiveFormat() {
	case formatText:
		output = []byte(l.formatText(event))
	default:
		output, err = json.Marshal(event)
		if err != nil {
			l.logger.Error("failed to marshal audit event", observability.Error(err))
			return
		}
		output = append(output, '\n')
	}

	if _, err := l.writer.Write(output); err != nil {
		l.logger.Error("failed to write audit event", observability.Error(err))
	}
}

// formatText formats an event as text.
func (l *logger) formatText(event *Event) string {
	var sb strings.Builder

	sb.WriteString(event.Timestamp.Format(time.RFC3339))
	sb.WriteString(" ")
	sb.WriteString(string(event.Level))
	sb.WriteString(" ")
	sb.WriteString(string(event.Type))
	sb.WriteString(" ")
	sb.WriteString(string(event.Action))
	sb.WriteString(" ")
	sb.WriteString(string(event.Outcome))

	if event.Subject != nil {
		if event.Subject.KeyID != "" {
			sb.WriteString(" key_id=")
			sb.WriteString(event.Subject.KeyID)
		}
		if event.Subject.Actor != "" {
			sb.WriteString(" actor=")
			sb.WriteString(event.Subject.Actor)
		}
	}

	if event.Resource != nil && event.Resource.Path != "" {
		sb.WriteString(" resource=")
		sb.WriteString(event.Resource.Path)
	}

	if event.Reason != "" {
		sb.WriteString(" reason=")
		sb.WriteString(event.Reason)
	}

	if event.TraceID != "" {
		sb.WriteString(" trace_id=")
		sb.WriteString(event.TraceID)
	}

	if event.Duration > 0 {
		sb.WriteString(" duration=")
		sb.WriteString(event.Duration.String())
	}

	sb.WriteString("\n")
	return sb.String()
}

// LogAuthentication logs an authentication decision.
func (l *logger) LogAuthentication(
	ctx context.Context,
	outcome Outcome,
	reason string,
	subject *Subject,
) {
	l.LogEvent(ctx, AuthenticationEvent(outcome, reason, subject))
}

// LogAuthorization logs a permission decision.
func (l *logger) LogAuthorization(
	ctx context.Context,
	outcome Outcome,
	subject *Subject,
	resource *Resource,
) {
	l.LogEvent(ctx, AuthorizationEvent(outcome, subject, resource))
}

// LogRateLimit logs a rate-limit denial.
func (l *logger) LogRateLimit(
	ctx context.Context,
	subject *Subject,
	limit int,
	retryAfter time.Duration,
) {
	l.LogEvent(ctx, RateLimitEvent(subject, limit, retryAfter))
}

// LogLifecycle logs a key lifecycle operation.
func (l *logger) LogLifecycle(
	ctx context.Context,
	action Action,
	outcome Outcome,
	subject *Subject,
) {
	l.LogEvent(ctx, LifecycleEvent(action, outcome, subject))
}

// Close drains buffered events and releases resources.
func (l *logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.quit)
	})
	<-l.done

	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// extractTraceID extracts the trace ID from the OpenTelemetry span context.
// Returns an empty string when no valid trace context is present.
func extractTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// extractSpanID extracts the span ID from the OpenTelemetry span context.
// Returns an empty string when no valid span context is present.
func extractSpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// noopLogger is a no-op audit logger.
type noopLogger struct{}

// NewNoopLogger creates a new no-op audit logger.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) LogEvent(_ context.Context, _ *Event) {}

func (l *noopLogger) LogAuthentication(_ context.Context, _ Outcome, _ string, _ *Subject) {}

func (l *noopLogger) LogAuthorization(_ context.Context, _ Outcome, _ *Subject, _ *Resource) {}

func (l *noopLogger) LogRateLimit(_ context.Context, _ *Subject, _ int, _ time.Duration) {}

func (l *noopLogger) LogLifecycle(_ context.Context, _ Action, _ Outcome, _ *Subject) {}

func (l *noopLogger) Close() error { return nil }

// Ensure implementations satisfy the interface.
var (
	_ Logger = (*logger)(nil)
	_ Logger = (*noopLogger)(nil)
)
