package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const DBTxKey contextKey = "db_tx"

// Queryable is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxFromContext returns the transaction opened by a Transactor, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// Conn returns the transaction carried by ctx, falling back to the pool.
// Repositories call it for every statement so that they join the caller's
// transaction transparently.
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// Transactor runs a closure inside a database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PgTransactor is the pgx implementation of Transactor. When fn fails with a
// serialization failure or deadlock the whole closure is retried, up to
// MaxRetries extra attempts, so fn must not keep state across attempts.
type PgTransactor struct {
	pool       *pgxpool.Pool
	opts       pgx.TxOptions
	maxRetries int
	onRetry    func()
}

type TransactorOption func(*PgTransactor)

// WithIsolation sets the isolation level for transactions opened by the transactor.
func WithIsolation(level pgx.TxIsoLevel) TransactorOption {
	return func(t *PgTransactor) { t.opts.IsoLevel = level }
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) TransactorOption {
	return func(t *PgTransactor) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithRetryHook registers a callback invoked before each retry (metrics).
func WithRetryHook(fn func()) TransactorOption {
	return func(t *PgTransactor) { t.onRetry = fn }
}

func NewTransactor(pool *pgxpool.Pool, opts ...TransactorOption) *PgTransactor {
	t := &PgTransactor{pool: pool, maxRetries: 3}
	for _, o := range opts {
		o(t)
	}
	return t
}

// WithinTx joins the transaction already present in ctx, otherwise begins a
// new one and commits it when fn returns nil.
func (t *PgTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = t.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) || attempt >= t.maxRetries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if t.onRetry != nil {
			t.onRetry()
		}
	}
}

func (t *PgTransactor) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.pool.BeginTx(ctx, t.opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// no-op after a successful commit
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
