package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// tracerName is the name used for the store tracer
	tracerName = "github.com/farmsight/sync-engine/internal/store"
)

// dbSystemSQLite marks every store span per OTEL semantic conventions
var dbSystemSQLite = attribute.String("db.system", "sqlite")

// startSpan starts a span for a store operation. The global tracer provider
// defaults to no-op, so the overhead is negligible when tracing is not wired.
func startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "store."+op,
		trace.WithAttributes(dbSystemSQLite))
}
