package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PoolConfig holds connection pool settings shared by every driver.
type PoolConfig struct {
	DSN                string        `yaml:"dsn"`
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxOpenConnections == 0 {
		c.MaxOpenConnections = 25
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	return c
}

const pingTimeout = 5 * time.Second

// Open connects to a MySQL or PostgreSQL database and checks it answers.
func Open(driver string, cfg PoolConfig) (*SQLDatabase, error) {
	dialect, ok := dialectFor(driver)
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%s: dsn is required", dialect)
	}
	cfg = cfg.withDefaults()

	pool, err := sql.Open(dialect.driverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConnections)
	pool.SetMaxIdleConns(cfg.MaxIdleConnections)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return NewWithDB(pool, dialect), nil
}

// SQLDatabase implements Database over a pooled *sql.DB.
type SQLDatabase struct {
	binder
	pool *sql.DB
}

// NewWithDB wraps an existing pool.
func NewWithDB(pool *sql.DB, dialect Dialect) *SQLDatabase {
	return &SQLDatabase{binder: binder{conn: pool, dialect: dialect}, pool: pool}
}

func (d *SQLDatabase) Dialect() Dialect { return d.dialect }

func (d *SQLDatabase) Ping(ctx context.Context) error { return d.pool.PingContext(ctx) }

func (d *SQLDatabase) Close() error { return d.pool.Close() }

// Transaction commits when fn returns nil and rolls back otherwise.
func (d *SQLDatabase) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := d.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqlTx{binder: binder{conn: tx, dialect: d.dialect}, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	binder
	tx *sql.Tx
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

// conn is what *sql.DB and *sql.Tx have in common.
type conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// binder rebinds placeholders before every call, so one Querier
// implementation serves both pools and transactions.
type binder struct {
	conn    conn
	dialect Dialect
}

func (b binder) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := b.conn.QueryContext(ctx, b.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

func (b binder) QueryRow(ctx context.Context, query string, args ...any) Row {
	return b.conn.QueryRowContext(ctx, b.dialect.Rebind(query), args...)
}

func (b binder) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := b.conn.ExecContext(ctx, b.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return res, nil
}

var (
	_ Database    = (*SQLDatabase)(nil)
	_ Transaction = (*sqlTx)(nil)
)
