package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scopes for spans started by this package.
const (
	scopeStore = "smartplant/store"
	scopeApp   = "smartplant"
)

// DBOperation is the db.operation value of a store span.
type DBOperation string

const (
	DBOperationQuery  DBOperation = "query"
	DBOperationInsert DBOperation = "insert"
	DBOperationUpdate DBOperation = "update"
	DBOperationScan   DBOperation = "scan"
)

// Store systems recorded in the db.system attribute.
const (
	SystemPostgres = "postgresql"
	SystemDynamoDB = "dynamodb"
)

// StartDBSpan starts a client span for a PostgreSQL operation on table.
//
//	ctx, end := tracing.StartDBSpan(ctx, "sightings", tracing.DBOperationQuery)
//	defer func() { end(err) }()
func StartDBSpan(ctx context.Context, table string, operation DBOperation) (context.Context, func(error)) {
	return StartStoreSpan(ctx, SystemPostgres, table, operation)
}

// StartStoreSpan starts a client span named "<operation> <table>" against the
// store identified by system. The returned func ends the span and records a
// non-nil error on it.
func StartStoreSpan(ctx context.Context, system, table string, operation DBOperation) (context.Context, func(error)) {
	name := string(operation)
	attrs := []attribute.KeyValue{
		attribute.String("db.system", system),
		attribute.String("db.operation", string(operation)),
	}
	if table != "" {
		name += " " + table
		attrs = append(attrs, attribute.String("db.sql.table", table))
	}

	ctx, span := otel.Tracer(scopeStore).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, ender(span)
}

// StartSpan starts an internal span for an application step such as
// identify.submit or jobs.orphan_sweep.
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(scopeApp).Start(ctx, name)
	return ctx, ender(span)
}

func ender(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
