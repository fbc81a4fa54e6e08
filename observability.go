package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityConfig configures OpenTelemetry tracing and metrics.
type ObservabilityConfig struct {
	// TracerProvider receives the service spans. Nil uses a no-op provider.
	TracerProvider trace.TracerProvider

	// MeterProvider receives the service metrics. Nil uses a no-op provider.
	MeterProvider metric.MeterProvider

	// ServiceName is recorded on every span. Default: "go-admin".
	ServiceName string

	ServiceVersion string

	// EnableDetailedDBTracing creates a span per GORM statement.
	EnableDetailedDBTracing bool

	// EnableServerTiming adds GORM statement timings to the Server-Timing
	// header carried by the request context.
	EnableServerTiming bool
}

// SetObservability configures OpenTelemetry-based observability for the service.
// Searches, reconciliations and writes create spans and record metrics.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	defer tp.Shutdown(ctx)
//
//	service.SetObservability(admin.ObservabilityConfig{
//	    TracerProvider: tp,
//	    ServiceName:    "catalog-admin",
//	})
func (s *Service) SetObservability(cfg ObservabilityConfig) error {
	obs := observability.NewConfig(cfg.options(s.logger)...)
	if err := obs.Initialize(); err != nil {
		return errs.Wrapf(err, "failed to initialize observability")
	}
	// memory services have no statements to instrument
	if s.db != nil {
		if err := obs.Instrument(s.db); err != nil {
			return errs.Wrapf(err, "failed to instrument database")
		}
	}
	s.observability = obs

	s.logger.Info("Observability configured",
		"service", obs.ServiceName(),
		"version", cfg.ServiceVersion,
		"instrumentedDB", s.db != nil && (obs.DetailedDBTracing() || obs.ServerTimingEnabled()))
	return nil
}

// options translates cfg. Unset fields keep the observability defaults.
func (cfg ObservabilityConfig) options(logger *slog.Logger) []observability.Option {
	opts := []observability.Option{
		observability.WithTracerProvider(cfg.TracerProvider),
		observability.WithMeterProvider(cfg.MeterProvider),
		observability.WithLogger(logger),
	}
	if cfg.ServiceName != "" {
		opts = append(opts, observability.WithServiceName(cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		opts = append(opts, observability.WithServiceVersion(cfg.ServiceVersion))
	}
	if cfg.EnableDetailedDBTracing {
		opts = append(opts, observability.WithDetailedDBTracing())
	}
	if cfg.EnableServerTiming {
		opts = append(opts, observability.WithServerTiming())
	}
	return opts
}

// ServerTimingMiddleware makes a Server-Timing header available through the
// request context. Service operations called with that context add their
// timings to it.
func ServerTimingMiddleware(next http.Handler) http.Handler {
	return observability.ServerTimingMiddleware(next)
}

// operation is one instrumented service call.
type operation struct {
	ctx     context.Context
	span    trace.Span
	metrics *observability.Metrics
	timing  *observability.ServerTimingMetric
	name    string
	entity  string
	start   time.Time
}

// instrument starts the span, metric and timing of op. Without observability
// only the server timing is recorded.
func (s *Service) instrument(ctx context.Context, op, entity string) *operation {
	o := &operation{
		ctx:    ctx,
		name:   op,
		entity: entity,
		start:  time.Now(),
		timing: observability.StartServerTimingWithDesc(ctx, "admin-"+op, entity),
	}
	if s.observability != nil {
		o.ctx, o.span = s.observability.Tracer().StartEntityOperation(ctx, op, entity)
		o.metrics = s.observability.Metrics()
	}
	return o
}

// instrumentSearch is instrument with the search attributes on the span.
func (s *Service) instrumentSearch(ctx context.Context, entity, search string, page, pageSize int) *operation {
	o := &operation{
		ctx:    ctx,
		name:   observability.OpSearch,
		entity: entity,
		start:  time.Now(),
		timing: observability.StartServerTimingWithDesc(ctx, "admin-search", entity),
	}
	if s.observability != nil {
		o.ctx, o.span = s.observability.Tracer().StartSearch(ctx, entity, search, page, pageSize)
		o.metrics = s.observability.Metrics()
	}
	return o
}

func (o *operation) setAttributes(attrs ...attribute.KeyValue) {
	if o.span != nil {
		o.span.SetAttributes(attrs...)
	}
}

func (o *operation) end(err error) {
	o.timing.Stop()
	o.metrics.RecordOperation(o.ctx, o.name, o.entity, time.Since(o.start), err)
	if o.span != nil {
		observability.RecordError(o.span, err)
		o.span.End()
	}
}
