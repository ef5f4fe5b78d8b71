package store

import (
	"context"
	"database/sql"
)

var errSQLNoRows = sql.ErrNoRows

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLAdapter implements TxRunner over database/sql, so the sqlite cache rides
// the same repo seam as postgres
type SQLAdapter struct {
	db *sql.DB
	q  sqlQuerier
}

// NewSQLAdapter wraps db
func NewSQLAdapter(db *sql.DB) *SQLAdapter { return &SQLAdapter{db: db, q: db} }

// DB returns the wrapped handle
func (a *SQLAdapter) DB() *sql.DB { return a.db }

// Ping checks the handle
func (a *SQLAdapter) Ping(ctx context.Context) error { return a.db.PingContext(ctx) }

// Close closes the handle
func (a *SQLAdapter) Close() error { return a.db.Close() }

// Exec runs a write
func (a *SQLAdapter) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	res, err := a.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlTag{res}, nil
}

// Query runs a read returning many rows
func (a *SQLAdapter) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rs, err := a.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rs}, nil
}

// QueryRow runs a read returning at most one row
func (a *SQLAdapter) QueryRow(ctx context.Context, query string, args ...any) Row {
	return a.q.QueryRowContext(ctx, query, args...)
}

// Tx runs fn in a transaction
func (a *SQLAdapter) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&SQLAdapter{db: a.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sqlRows struct{ r *sql.Rows }

func (x sqlRows) Next() bool            { return x.r.Next() }
func (x sqlRows) Scan(dst ...any) error { return x.r.Scan(dst...) }
func (x sqlRows) Err() error            { return x.r.Err() }
func (x sqlRows) Close()                { _ = x.r.Close() }

type sqlTag struct{ r sql.Result }

func (t sqlTag) RowsAffected() int64 {
	n, _ := t.r.RowsAffected()
	return n
}
