package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on admin spans and metrics.
const (
	EntityAttrKey      = attribute.Key("admin.entity")
	OperationAttrKey   = attribute.Key("admin.operation")
	EntityKeyAttrKey   = attribute.Key("admin.entity_key")
	SearchAttrKey      = attribute.Key("admin.search")
	PageAttrKey        = attribute.Key("admin.page")
	PageSizeAttrKey    = attribute.Key("admin.page_size")
	TotalAttrKey       = attribute.Key("admin.total_count")
	AttachedAttrKey    = attribute.Key("admin.attached")
	ServiceAttrKey     = attribute.Key("service.name")
	VersionAttrKey     = attribute.Key("service.version")
	DBOperationAttrKey = attribute.Key("db.operation")
	DBTableAttrKey     = attribute.Key("db.sql.table")
	DBRowsAttrKey      = attribute.Key("db.rows_affected")
)

// Operation names.
const (
	OpSearch    = "search"
	OpFind      = "find"
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpReconcile = "reconcile"
)

// Tracer creates the spans of admin operations.
type Tracer struct {
	tracer trace.Tracer
	common []attribute.KeyValue
}

func newTracer(tp trace.TracerProvider, serviceName, serviceVersion string) *Tracer {
	common := []attribute.KeyValue{ServiceAttrKey.String(serviceName)}
	if serviceVersion != "" {
		common = append(common, VersionAttrKey.String(serviceVersion))
	}
	return &Tracer{
		tracer: tp.Tracer(instrumentationName),
		common: common,
	}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(t.common)+len(attrs))
	all = append(all, t.common...)
	all = append(all, attrs...)
	return t.tracer.Start(ctx, name, trace.WithAttributes(all...), trace.WithSpanKind(trace.SpanKindInternal))
}

// StartSearch starts the span of a paged search.
func (t *Tracer) StartSearch(ctx context.Context, entity, search string, page, pageSize int) (context.Context, trace.Span) {
	return t.start(ctx, "admin.search "+entity,
		EntityAttrKey.String(entity),
		OperationAttrKey.String(OpSearch),
		SearchAttrKey.String(search),
		PageAttrKey.Int(page),
		PageSizeAttrKey.Int(pageSize),
	)
}

// StartEntityOperation starts the span of a write or a keyed read.
func (t *Tracer) StartEntityOperation(ctx context.Context, operation, entity string) (context.Context, trace.Span) {
	return t.start(ctx, "admin."+operation+" "+entity,
		EntityAttrKey.String(entity),
		OperationAttrKey.String(operation),
	)
}

// StartReconcile starts the span of a graph reconciliation.
func (t *Tracer) StartReconcile(ctx context.Context, entity string) (context.Context, trace.Span) {
	return t.StartEntityOperation(ctx, OpReconcile, entity)
}

// RecordError marks span as failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TotalCountAttr is the attribute reporting the total of a search.
func TotalCountAttr(total int64) attribute.KeyValue {
	return TotalAttrKey.Int64(total)
}

// AttachedAttr is the attribute reporting how many entities a
// reconciliation attached.
func AttachedAttr(n int) attribute.KeyValue {
	return AttachedAttrKey.Int(n)
}
