package admin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	servertiming "github.com/mitchellh/go-server-timing"
	admin "github.com/nlstn/go-admin"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestSetObservability(t *testing.T) {
	service, db := setupService(t)
	seedAddresses(t, db)

	err := service.SetObservability(admin.ObservabilityConfig{
		TracerProvider:          tracenoop.NewTracerProvider(),
		MeterProvider:           metricnoop.NewMeterProvider(),
		ServiceName:             "catalog-admin",
		ServiceVersion:          "1.0.0",
		EnableDetailedDBTracing: true,
		EnableServerTiming:      true,
	})
	if err != nil {
		t.Fatalf("SetObservability() error: %v", err)
	}

	header := &servertiming.Header{}
	ctx := servertiming.NewContext(context.Background(), header)
	page, err := service.Search(ctx, Address{}, nil, admin.SearchOptions{SearchString: "ain"}, nil, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if page.TotalCount != 3 {
		t.Errorf("Expected 3 matches with observability enabled, got %d", page.TotalCount)
	}
	if err := service.Delete(ctx, &Address{ID: 1}); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	names := make(map[string]bool)
	for _, m := range header.Metrics {
		names[m.Name] = true
	}
	for _, want := range []string{"admin-search", "admin-delete", "db-query"} {
		if !names[want] {
			t.Errorf("Expected server timing %q, got %v", want, names)
		}
	}
}

func TestServerTimingMiddleware(t *testing.T) {
	service, db := setupService(t)
	seedAddresses(t, db)

	handler := admin.ServerTimingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := service.Search(r.Context(), Address{}, nil, admin.SearchOptions{}, nil, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/addresses", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", res.Code)
	}
	if got := res.Header().Get(servertiming.HeaderKey); !strings.Contains(got, "admin-search") {
		t.Errorf("Expected admin-search in Server-Timing header, got %q", got)
	}
}
