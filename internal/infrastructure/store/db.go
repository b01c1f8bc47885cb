package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Opts struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// Connect opens a *sqlx.DB for postgres or mysql and verifies it with a ping.
// MySQL DSNs need parseTime=true.
func Connect(driver, dsn string, opts Opts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty %s DSN", driver)
	}
	switch driver {
	case DriverPostgres, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// isUniqueViolation recognizes duplicate-key errors from both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func withTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}
