// Package mysql is the clustered-host storage backend for MySQL and
// MariaDB.  It centralises sqlx connection helpers and implements
// database.Adapter on top of them.
//
// Public entry points:
//
//	Register(reg)                 – bind the "MySQL" tag.
//	OpenWithOptions(ctx, dsn, o) – pooled *sqlx.DB with retries.
//
// OpenWithOptions pings before returning so callers fail fast.  Callers
// must Close() the returned *sqlx.DB when no longer needed.
package mysql

import (
	"context"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Options tunes one tenant pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Retries         int
	RetryBackoff    time.Duration
}

// DefaultOptions keeps per-tenant resource usage small.
var DefaultOptions = Options{
	MaxOpenConns:    5,
	MaxIdleConns:    2,
	ConnMaxLifetime: 30 * time.Minute,
	Retries:         2,
	RetryBackoff:    500 * time.Millisecond,
}

// OpenWithOptions opens and pings a pool, retrying the ping o.Retries
// times with linear backoff.
func OpenWithOptions(ctx context.Context, dsn string, o Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)

	var pingErr error
	for attempt := 0; attempt <= o.Retries; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			return db, nil
		}
		if attempt == o.Retries {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * o.RetryBackoff):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("mysql ping: %w", pingErr)
}

// Settings is the MySQL descriptor payload.
type Settings struct {
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	User         string            `json:"user"`
	Password     string            `json:"password"`
	Params       map[string]string `json:"params"`
	MaxOpenConns int               `json:"maxOpenConns"`
	MaxIdleConns int               `json:"maxIdleConns"`
}

// dsn renders the driver DSN for one logical database.
func (s Settings) dsn(database string) string {
	cfg := mysqldrv.NewConfig()
	cfg.User = s.User
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", s.Host, s.Port)
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.Params = s.Params
	return cfg.FormatDSN()
}

func (s Settings) options() Options {
	o := DefaultOptions
	if s.MaxOpenConns > 0 {
		o.MaxOpenConns = s.MaxOpenConns
	}
	if s.MaxIdleConns > 0 {
		o.MaxIdleConns = s.MaxIdleConns
	}
	return o
}
