package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if Enabled() {
		t.Fatal("disabled config reports enabled")
	}

	ctx, span := StartSpan(context.Background(), "test.op", AttrPlantID.Int(3))
	if ctx == nil || span == nil {
		t.Fatal("noop tracer returned nils")
	}
	span.End()
	if err := Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"})
	if err == nil {
		t.Fatal("unknown exporter accepted")
	}
}

func TestNoneExporterEnablesTracing(t *testing.T) {
	if err := Init(context.Background(), Config{
		Enabled:     true,
		Exporter:    "none",
		ServiceName: "strix-test",
		SampleRate:  1.0,
	}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		Shutdown(context.Background())
		Init(context.Background(), Config{Enabled: false})
	})

	if !Enabled() {
		t.Fatal("provider not enabled")
	}
	_, span := StartSpan(context.Background(), "test.op")
	if !span.SpanContext().IsValid() {
		t.Fatal("enabled tracer produced invalid span context")
	}
	span.End()
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	Init(context.Background(), Config{Enabled: false})

	var called bool
	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	if !called || rec.Code != http.StatusTeapot {
		t.Fatalf("called=%v code=%d", called, rec.Code)
	}
}
