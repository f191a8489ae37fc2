package sql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
)

type (
	Client interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	}

	Repository struct {
		db      *sql.DB // nil inside a transaction
		client  Client
		queries *dal.Queries
		log     *slog.Logger
		now     func() time.Time
	}

	Option func(*Repository)
)

var _ dal.Repository = (*Repository)(nil)

func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

func NewRepository(db *sql.DB, dbType dal.DBType, log *slog.Logger, opts ...Option) *Repository {
	res := &Repository{
		db:      db,
		client:  db,
		queries: dal.NewQueries(dbType),
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Transact runs txFunc in a database transaction. Nested calls join the outer transaction.
func (r *Repository) Transact(ctx context.Context, txFunc func(r dal.Repository) error) error {
	return r.inTx(ctx, func(tx *Repository) error {
		return txFunc(tx)
	})
}

func (r *Repository) inTx(ctx context.Context, txFunc func(tx *Repository) error) error {
	if r.db == nil {
		return txFunc(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // ignore rollback errors

	if err = txFunc(&Repository{client: tx, queries: r.queries.Clone(), log: r.log, now: r.now}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (r *Repository) exec(ctx context.Context, query squirrel.Sqlizer) (int64, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	res, err := r.client.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) queryRow(ctx context.Context, query squirrel.Sqlizer) (*sql.Row, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.client.QueryRowContext(ctx, sql, args...), nil
}

func (r *Repository) query(ctx context.Context, query squirrel.Sqlizer) (*sql.Rows, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.client.QueryContext(ctx, sql, args...)
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
