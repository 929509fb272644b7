package repo

import (
	"context"
	"database/sql"
	"errors"

	"gigline/internal/db"
)

// Repo is the SQL store. Methods taking a *sql.Tx run on it when non-nil and on DB
// otherwise.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) on(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return r.on(tx).ExecContext(ctx, r.Dialect.Rebind(query), args...)
}

func (r Repo) query(ctx context.Context, tx *sql.Tx, query string, args ...any) (*sql.Rows, error) {
	return r.on(tx).QueryContext(ctx, r.Dialect.Rebind(query), args...)
}

func (r Repo) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	return r.on(tx).QueryRowContext(ctx, r.Dialect.Rebind(query), args...)
}

// execAffected runs a conditional write and reports whether any row matched.
func (r Repo) execAffected(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	res, err := r.exec(ctx, tx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}
