package postman

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/postman/retry"
	"github.com/rbaliyan/postman/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout

	// Recipient limits
	DefaultMinRecipients        = 1
	DefaultMaxRecipients        = 10
	DefaultMaxVisitorRecipients = 2

	// Query limits
	DefaultMaxQueryLimit = 100 // max messages per query
	DefaultQueryLimit    = 20  // default messages per query

	// Concurrency limits
	DefaultMaxConcurrentComposes = 10 // max concurrent compose operations per service
)

// options holds service configuration.
type options struct {
	store     store.Store
	directory store.UserDirectory
	logger    *slog.Logger
	now       func() time.Time

	plugins []Plugin

	// Recipients
	minRecipients           int
	maxRecipients           int
	disallowMultiRecipients bool
	userFilter              UserFilter
	exchangeFilter          ExchangeFilter

	// Moderation
	autoModerators []AutoModerator
	autoModerateAs store.ModerationStatus

	// Query limits
	maxQueryLimit     int
	defaultQueryLimit int

	// Concurrency limits
	maxConcurrentComposes int

	// Shutdown
	shutdownTimeout time.Duration

	// Transactions
	commitRetry retry.Policy

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:                slog.Default(),
		now:                   func() time.Time { return time.Now().UTC() },
		minRecipients:         DefaultMinRecipients,
		maxRecipients:         DefaultMaxRecipients,
		autoModerateAs:        store.StatusAccepted,
		maxQueryLimit:         DefaultMaxQueryLimit,
		defaultQueryLimit:     DefaultQueryLimit,
		maxConcurrentComposes: DefaultMaxConcurrentComposes,
		shutdownTimeout:       DefaultShutdownTimeout,
		commitRetry:           retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.defaultQueryLimit > o.maxQueryLimit {
		o.defaultQueryLimit = o.maxQueryLimit
	}
	if o.minRecipients > o.maxRecipients {
		o.minRecipients = o.maxRecipients
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures the postman service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the message storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithDirectory sets the user directory used to resolve recipients (required).
func WithDirectory(d store.UserDirectory) Option {
	return func(o *options) {
		if d != nil {
			o.directory = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source. Times are converted to UTC.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = func() time.Time { return now().UTC() }
		}
	}
}

// --- Plugin Options ---

// WithPlugin registers a plugin with the service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Recipient Options ---

// WithMinRecipients sets the minimum number of recipients per compose.
// Default is 1.
func WithMinRecipients(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.minRecipients = n
		}
	}
}

// WithMaxRecipients sets the maximum number of recipients per compose for
// registered users. Visitors are always limited to 2.
// Default is 10.
func WithMaxRecipients(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRecipients = n
		}
	}
}

// WithDisallowMultiRecipients limits every compose to a single recipient.
func WithDisallowMultiRecipients(disallow bool) Option {
	return func(o *options) {
		o.disallowMultiRecipients = disallow
	}
}

// WithUserFilter sets a filter applied to every resolved recipient.
func WithUserFilter(f UserFilter) Option {
	return func(o *options) {
		o.userFilter = f
	}
}

// WithExchangeFilter sets the filter vetting each (sender, recipient) pair.
// Use ChainExchangeFilters to combine several.
func WithExchangeFilter(f ExchangeFilter) Option {
	return func(o *options) {
		o.exchangeFilter = f
	}
}

// --- Moderation Options ---

// WithAutoModerators sets the moderators run on every new message, in order.
func WithAutoModerators(m ...AutoModerator) Option {
	return func(o *options) {
		for _, fn := range m {
			if fn != nil {
				o.autoModerators = append(o.autoModerators, fn)
			}
		}
	}
}

// WithAutoModerateAs sets the status applied when no moderator decides.
// Default is accepted. Use pending to require manual moderation.
func WithAutoModerateAs(status store.ModerationStatus) Option {
	return func(o *options) {
		if status.IsValid() {
			o.autoModerateAs = status
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for telemetry and event bus naming.
// Default is "postman".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Query Limit Options ---

// WithMaxQueryLimit sets the maximum number of messages per page.
// Default is 100.
func WithMaxQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxQueryLimit = n
		}
	}
}

// WithDefaultQueryLimit sets the page size used when none is given.
// Capped to the maximum query limit. Default is 20.
func WithDefaultQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultQueryLimit = n
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentComposes sets the maximum number of concurrent compose
// operations. Default is 10.
func WithMaxConcurrentComposes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentComposes = n
		}
	}
}

// WithShutdownTimeout sets the maximum time Close waits for in-flight
// compose operations. Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// WithCommitRetries sets how many times a compose or moderation
// transaction is run again after a commit conflict. Zero disables retries.
// Default is 2.
func WithCommitRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.commitRetry.Attempts = n + 1
		}
	}
}

// --- Event Options ---

// WithEventTransport sets the event transport for publishing.
// If neither a transport nor a Redis client is set, a noop transport is used.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
