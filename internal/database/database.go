// package database provides the gorm connection for sqlite or postgresql.
package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnsupportedURL is returned for database urls with an unknown scheme.
var ErrUnsupportedURL = errors.New("unsupported database url")

// DB wraps the GORM instance and, for postgres, the pgx pool behind it.
type DB struct {
	Pool   *pgxpool.Pool // nil for sqlite
	GORM   *gorm.DB
	Driver string
}

// New opens the database named by databaseURL.
// Accepted forms: sqlite://path, sqlite://:memory:, postgres://..., postgresql://...
func New(ctx context.Context, databaseURL string) (*DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("%w: empty sqlite path", ErrUnsupportedURL)
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		gormDB, err := gorm.Open(sqlite.Open(path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &DB{GORM: gormDB, Driver: DriverSQLite}, nil

	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		config, err := pgxpool.ParseConfig(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}

		pool, err := pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("create connection pool: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}

		// gorm shares the pgx pool
		gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gormCfg)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("open gorm: %w", err)
		}
		return &DB{Pool: pool, GORM: gormDB, Driver: DriverPostgres}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, redact(databaseURL))
}

// Close closes the connection and the pool.
func (db *DB) Close() error {
	var errs []error
	if sqlDB, err := db.GORM.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	} else {
		errs = append(errs, err)
	}
	if db.Pool != nil {
		db.Pool.Close()
	}
	return errors.Join(errs...)
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if db.Pool != nil {
		return db.Pool.Ping(ctx)
	}
	sqlDB, err := db.GORM.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// redact hides credentials in error messages.
func redact(url string) string {
	if at := strings.LastIndex(url, "@"); at >= 0 {
		if scheme := strings.Index(url, "://"); scheme >= 0 && scheme < at {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
