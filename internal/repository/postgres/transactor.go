package postgres

import (
	"context"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var txTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "postgres_transactions_total",
	Help: "Transactions started by Transactor, by outcome.",
}, []string{"outcome"})

var _ token.Transactor = (*Transactor)(nil)

// Transactor runs fn in one read-committed transaction carried through
// ctx. Repos in this package pick it up via execQueryer; nested calls join
// the outer transaction.
type Transactor struct {
	db     *DB
	logger *zap.Logger
}

func NewTransactor(db *DB, logger *zap.Logger) *Transactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transactor{db: db, logger: logger}
}

func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	err := pgx.BeginTxFunc(ctx, t.db.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	if err != nil {
		txTotal.WithLabelValues("rollback").Inc()
		t.logger.Debug("transaction rolled back", zap.Error(err))
		return err
	}
	txTotal.WithLabelValues("commit").Inc()
	return nil
}

type txKey struct{}

func txFrom(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// execQueryer returns the transaction carried by ctx, or the pool.
func (db *DB) execQueryer(ctx context.Context) execQueryer {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db.Pool
}
