package observability

import (
	"github.com/nlstn/go-admin/internal/errs"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	spanInstanceKey   = "admin:span"
	timingInstanceKey = "admin:server_timing"
)

// Instrument registers the statement callbacks c enables on db.
func (c *Config) Instrument(db *gorm.DB) error {
	if c.detailedDBTracing {
		if err := RegisterGORMCallbacks(db, c); err != nil {
			return errs.Wrapf(err, "failed to register tracing callbacks")
		}
	}
	if c.serverTiming {
		if err := RegisterServerTimingCallbacks(db); err != nil {
			return errs.Wrapf(err, "failed to register server timing callbacks")
		}
	}
	return nil
}

// RegisterGORMCallbacks creates a span around every statement GORM runs on
// db. Spans become children of the span in the statement context.
func RegisterGORMCallbacks(db *gorm.DB, cfg *Config) error {
	if db == nil || cfg == nil || cfg.Tracer() == nil {
		return errs.InvalidArgumentf("database and initialized observability config are required")
	}
	tracer := cfg.Tracer()
	cb := db.Callback()
	return firstError(
		cb.Query().Before("gorm:query").Register("admin:trace_before_query", startStatementSpan(tracer, "query")),
		cb.Query().After("gorm:query").Register("admin:trace_after_query", endStatementSpan),
		cb.Create().Before("gorm:create").Register("admin:trace_before_create", startStatementSpan(tracer, "create")),
		cb.Create().After("gorm:create").Register("admin:trace_after_create", endStatementSpan),
		cb.Update().Before("gorm:update").Register("admin:trace_before_update", startStatementSpan(tracer, "update")),
		cb.Update().After("gorm:update").Register("admin:trace_after_update", endStatementSpan),
		cb.Delete().Before("gorm:delete").Register("admin:trace_before_delete", startStatementSpan(tracer, "delete")),
		cb.Delete().After("gorm:delete").Register("admin:trace_after_delete", endStatementSpan),
	)
}

func startStatementSpan(tracer *Tracer, operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		ctx, span := tracer.start(ctx, "db."+operation,
			DBOperationAttrKey.String(operation),
			DBTableAttrKey.String(db.Statement.Table),
		)
		db.Statement.Context = ctx
		db.InstanceSet(spanInstanceKey, span)
	}
}

func endStatementSpan(db *gorm.DB) {
	value, ok := db.InstanceGet(spanInstanceKey)
	if !ok {
		return
	}
	span, ok := value.(trace.Span)
	if !ok {
		return
	}
	span.SetAttributes(DBRowsAttrKey.Int64(db.RowsAffected))
	RecordError(span, db.Error)
	span.End()
}

// RegisterServerTimingCallbacks records the duration of every statement in
// the Server-Timing header carried by the statement context.
func RegisterServerTimingCallbacks(db *gorm.DB) error {
	if db == nil {
		return errs.InvalidArgumentf("database is required")
	}
	cb := db.Callback()
	return firstError(
		cb.Query().Before("gorm:query").Register("admin:timing_before_query", startStatementTiming("db-query")),
		cb.Query().After("gorm:query").Register("admin:timing_after_query", stopStatementTiming),
		cb.Create().Before("gorm:create").Register("admin:timing_before_create", startStatementTiming("db-create")),
		cb.Create().After("gorm:create").Register("admin:timing_after_create", stopStatementTiming),
		cb.Update().Before("gorm:update").Register("admin:timing_before_update", startStatementTiming("db-update")),
		cb.Update().After("gorm:update").Register("admin:timing_after_update", stopStatementTiming),
		cb.Delete().Before("gorm:delete").Register("admin:timing_before_delete", startStatementTiming("db-delete")),
		cb.Delete().After("gorm:delete").Register("admin:timing_after_delete", stopStatementTiming),
	)
}

func startStatementTiming(name string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		db.InstanceSet(timingInstanceKey, StartServerTimingWithDesc(db.Statement.Context, name, db.Statement.Table))
	}
}

func stopStatementTiming(db *gorm.DB) {
	if value, ok := db.InstanceGet(timingInstanceKey); ok {
		if m, ok := value.(*ServerTimingMetric); ok {
			m.Stop()
		}
	}
}

func firstError(errors ...error) error {
	for _, err := range errors {
		if err != nil {
			return errs.Wrapf(err, "failed to register GORM callback")
		}
	}
	return nil
}
