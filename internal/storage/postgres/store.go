package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/storefront-pricing/internal/domain/discount"
)

const tracerName = "github.com/xenking/storefront-pricing/internal/storage/postgres"

var _ discount.TxRunner = (*Store)(nil)

// Store runs discount units of work on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore returns a Store that uses the given pool. A nil tracer provider
// disables tracing.
func NewStore(pool *pgxpool.Pool, tp trace.TracerProvider) *Store {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Store{pool: pool, tracer: tp.Tracer(tracerName)}
}

// InTx runs fn inside one database transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx discount.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "discount.tx",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "postgresql")),
	)
	defer span.End()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Tx{db: tx})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
		return err
	}
	return nil
}

// Ping verifies the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Wrap(err, "ping postgres")
	}
	return nil
}
