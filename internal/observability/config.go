// Package observability wires OpenTelemetry tracing and metrics and the
// Server-Timing header into the admin data layer. Every provider is optional;
// a missing provider is replaced by a no-op implementation.
package observability

import (
	"log/slog"

	"github.com/nlstn/go-admin/internal/errs"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is reported when no service name is configured.
	DefaultServiceName = "go-admin"

	instrumentationName = "github.com/nlstn/go-admin"
)

// Config holds the observability settings of a service.
type Config struct {
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
	serviceName       string
	serviceVersion    string
	logger            *slog.Logger
	detailedDBTracing bool
	serverTiming      bool

	tracer  *Tracer
	metrics *Metrics
}

// Option configures a Config.
type Option func(*Config)

// WithTracerProvider sets the provider spans are created with.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets the provider instruments are created with.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) {
		c.meterProvider = mp
	}
}

// WithServiceName sets the service name reported on spans.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.serviceName = name
	}
}

// WithServiceVersion sets the service version reported on spans.
func WithServiceVersion(version string) Option {
	return func(c *Config) {
		c.serviceVersion = version
	}
}

// WithLogger sets the logger used for instrumentation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDetailedDBTracing creates a span for every database statement.
func WithDetailedDBTracing() Option {
	return func(c *Config) {
		c.detailedDBTracing = true
	}
}

// WithServerTiming records database timings in the Server-Timing header.
func WithServerTiming() Option {
	return func(c *Config) {
		c.serverTiming = true
	}
}

// NewConfig creates a configuration. Call Initialize before use.
func NewConfig(opts ...Option) *Config {
	c := &Config{serviceName: DefaultServiceName}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize creates the tracer and the metric instruments.
func (c *Config) Initialize() error {
	if c.tracerProvider == nil {
		c.tracerProvider = tracenoop.NewTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = metricnoop.NewMeterProvider()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.tracer = newTracer(c.tracerProvider, c.serviceName, c.serviceVersion)
	metrics, err := newMetrics(c.meterProvider)
	if err != nil {
		return errs.Wrapf(err, "failed to create metric instruments")
	}
	c.metrics = metrics
	return nil
}

// Tracer returns the tracer. It is nil before Initialize.
func (c *Config) Tracer() *Tracer {
	return c.tracer
}

// Metrics returns the metric instruments. They are nil before Initialize.
func (c *Config) Metrics() *Metrics {
	return c.metrics
}

// Logger returns the configured logger.
func (c *Config) Logger() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// ServiceName returns the reported service name.
func (c *Config) ServiceName() string {
	return c.serviceName
}

// DetailedDBTracing reports whether statement spans are enabled.
func (c *Config) DetailedDBTracing() bool {
	return c.detailedDBTracing
}

// ServerTimingEnabled reports whether Server-Timing metrics are recorded.
func (c *Config) ServerTimingEnabled() bool {
	return c.serverTiming
}
