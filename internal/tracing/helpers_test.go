package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder() (*tracetest.SpanRecorder, func()) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	return recorder, func() { _ = tp.Shutdown(context.Background()) }
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"query with table", "userExportRequests", DBOperationQuery, "query userExportRequests"},
		{"insert with table", "userConsentLogs", DBOperationInsert, "insert userConsentLogs"},
		{"update with table", "userExportDownloads", DBOperationUpdate, "update userExportDownloads"},
		{"delete with table", "financeAuditEvents", DBOperationDelete, "delete financeAuditEvents"},
		{"query without table", "", DBOperationQuery, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder, shutdown := newRecorder()
			defer shutdown()

			_, endSpan := StartDBSpan(context.Background(), tt.table, tt.operation)
			endSpan(nil)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if got := spans[0].Name(); got != tt.wantName {
				t.Errorf("got span name %q, want %q", got, tt.wantName)
			}
		})
	}
}

func TestStartDBSpan_RecordsError(t *testing.T) {
	recorder, shutdown := newRecorder()
	defer shutdown()

	_, endSpan := StartDBSpan(context.Background(), "userExportRequests", DBOperationQuery)
	endSpan(errors.New("connection refused"))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected recorded error event on span")
	}
}

func TestStartSpan(t *testing.T) {
	recorder, shutdown := newRecorder()
	defer shutdown()

	ctx, endSpan := StartSpan(context.Background(), "retention_sweep")
	AddEvent(ctx, "category_swept", attribute.String("table", "userExportRequests"))
	SetAttributes(ctx, attribute.Int("rows_deleted", 3))
	endSpan(nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].Name(); got != "retention_sweep" {
		t.Errorf("got span name %q, want retention_sweep", got)
	}
	if len(spans[0].Events()) != 1 {
		t.Errorf("expected 1 event, got %d", len(spans[0].Events()))
	}
}
