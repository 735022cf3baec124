package postgres

import (
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/hh-recruiter-bot/internal/domain"
)

// txOptsReadCommitted is the transaction isolation level used by every
// repo that needs explicit transaction management (row locks, multi-
// statement writes).
func txOptsReadCommitted() pgx.TxOptions {
	return pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
}

// startSpan opens a repo.<tracerName> span tagged with the SQL operation
// and table, following the per-query tracing convention the rest of the
// pipeline's repos use.
func startSpan(ctx domain.Context, tracerName, spanName, operation, table string) (domain.Context, trace.Span) {
	tracer := otel.Tracer("repo." + tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	)
	return ctx, span
}
