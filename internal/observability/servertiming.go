package observability

import (
	"context"
	"net/http"

	servertiming "github.com/mitchellh/go-server-timing"
)

// ServerTimingMetric times one operation for the Server-Timing header.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// Stop ends the metric. Calling Stop on a no-op metric is safe.
func (m *ServerTimingMetric) Stop() {
	if m == nil || m.metric == nil {
		return
	}
	m.metric.Stop()
}

// StartServerTiming starts a metric when ctx carries a Server-Timing header.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return StartServerTimingWithDesc(ctx, name, "")
}

// StartServerTimingWithDesc starts a metric with a description.
func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	if ctx == nil {
		return &ServerTimingMetric{}
	}
	h := servertiming.FromContext(ctx)
	if h == nil {
		return &ServerTimingMetric{}
	}
	m := h.NewMetric(name)
	if description != "" {
		m = m.WithDesc(description)
	}
	return &ServerTimingMetric{metric: m.Start()}
}

// ServerTimingMiddleware makes a Server-Timing header available to handlers
// through the request context and writes it with the response.
func ServerTimingMiddleware(next http.Handler) http.Handler {
	return servertiming.Middleware(next, nil)
}

// WithServerTimingHeader returns a context carrying an empty header, for
// callers that collect timings outside an HTTP request.
func WithServerTimingHeader(ctx context.Context) (context.Context, *servertiming.Header) {
	h := &servertiming.Header{}
	return servertiming.NewContext(ctx, h), h
}
