package db

import (
	"context"
	"database/sql"
)

// Database is the handle repositories depend on. It is implemented by *SQLDatabase
// for both MySQL and PostgreSQL, and by fakes in tests.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, rolling back when fn fails.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// Dialect reports the SQL flavour so queries can be rebound.
	Dialect() Dialect

	Ping(ctx context.Context) error
	Close() error
}

// Querier abstracts database operations for both database and transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Transaction is a Querier bound to an open transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows is the iteration surface of *sql.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the scan surface of *sql.Row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result is the outcome of an Exec.
type Result interface {
	RowsAffected() (int64, error)
}

var (
	_ Rows   = (*sql.Rows)(nil)
	_ Row    = (*sql.Row)(nil)
	_ Result = sql.Result(nil)
)
