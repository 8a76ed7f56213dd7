package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database dialects.
type Dialect string

const (
	DialectPostgres Dialect = "POSTGRES"
	DialectMySQL    Dialect = "MYSQL"
	DialectSQLite   Dialect = "SQLLITE"
)

func (d Dialect) Valid() bool {
	switch d {
	case DialectPostgres, DialectMySQL, DialectSQLite:
		return true
	}
	return false
}

func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}

// supportsReturning reports whether INSERT ... RETURNING id works.
func (d Dialect) supportsReturning() bool { return d == DialectPostgres }

// bindTime converts a timestamp into the driver-appropriate bind value.
// SQLite and MySQL get formatted UTC strings so stored values compare
// correctly; Postgres takes time.Time directly.
func (d Dialect) bindTime(t time.Time) interface{} {
	switch d {
	case DialectSQLite:
		return t.UTC().Format("2006-01-02 15:04:05.000")
	case DialectMySQL:
		return t.UTC().Format("2006-01-02 15:04:05.000000")
	default:
		return t.UTC()
	}
}

// bindTimePtr is bindTime for nullable timestamps.
func (d Dialect) bindTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return d.bindTime(*t)
}

// Connect opens the database, configures the pool, and verifies
// connectivity.
func Connect(dialect Dialect, dsn string, maxConns int) (*sqlx.DB, error) {
	if !dialect.Valid() {
		return nil, fmt.Errorf("unsupported database type %q", dialect)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	slog.Info("Database connected",
		"driver", dialect.driverName(), "pool_open", maxConns, "duration", time.Since(start).String())
	return db, nil
}
