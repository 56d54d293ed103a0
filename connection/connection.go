// Package connection establishes and releases the database/sql and pgxpool
// connections to the engine's test database.
package connection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/veiloq/isokit/config"
	"github.com/veiloq/isokit/internal/cleanup"
)

// ConnectPools opens a database/sql pool (lib/pq driver) and a pgxpool.Pool
// to the named test database and verifies both with a ping. It returns the
// pools and the DSN used. On any failure, resources opened so far are closed
// before the error is returned.
func ConnectPools(ctx context.Context, cfg config.Config, testDBName string, logger *zap.Logger) (*sql.DB, *pgxpool.Pool, string, error) {
	testDBConfig := cfg
	testDBConfig.Database = testDBName
	dsn := testDBConfig.DSN()

	logger.Debug("Connecting to test database (sql.DB)", zap.String("database", testDBName))
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, dsn, fmt.Errorf("failed to open connection to test database %q: %w", testDBName, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, dsn, fmt.Errorf("failed to ping test database %q (sql.DB): %w", testDBName, err)
	}

	logger.Debug("Creating pgx connection pool", zap.String("database", testDBName))
	pgxConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		db.Close()
		return nil, nil, dsn, fmt.Errorf("failed to parse DSN for pgx pool: %w", err)
	}

	poolCtx, poolCancel := context.WithTimeout(ctx, 10*time.Second)
	defer poolCancel()
	pool, err := pgxpool.NewWithConfig(poolCtx, pgxConfig)
	if err != nil {
		db.Close()
		return nil, nil, dsn, fmt.Errorf("failed to create pgx connection pool: %w", err)
	}

	pingPoolCtx, pingPoolCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingPoolCancel()
	if err = pool.Ping(pingPoolCtx); err != nil {
		pool.Close()
		db.Close()
		return nil, nil, dsn, fmt.Errorf("failed to ping pgx pool for test database %q: %w", testDBName, err)
	}

	logger.Debug("Connected both pools to test database", zap.String("database", testDBName))
	return db, pool, dsn, nil
}

// CloseDB returns a teardown step that closes the sql.DB pool. The
// pointer-to-pointer lets the step nil out the caller's variable after a
// successful close so a second invocation is a no-op.
func CloseDB(dbPtr **sql.DB, dsn string, logger *zap.Logger) cleanup.Func {
	return func() error {
		db := *dbPtr
		if db == nil {
			return nil
		}
		dbName := GetDBNameFromDSN(dsn)
		if err := db.Close(); err != nil {
			logger.Error("Error closing sql.DB connection", zap.String("database", dbName), zap.Error(err))
			return fmt.Errorf("error closing sql.DB connection (%s): %w", dbName, err)
		}
		logger.Debug("Closed sql.DB connection", zap.String("database", dbName))
		*dbPtr = nil
		return nil
	}
}

// ClosePool returns a teardown step that closes the pgx pool. Same
// pointer-to-pointer discipline as CloseDB; pgxpool's Close never errors.
func ClosePool(poolPtr **pgxpool.Pool, dsn string, logger *zap.Logger) cleanup.Func {
	return func() error {
		pool := *poolPtr
		if pool == nil {
			return nil
		}
		pool.Close()
		logger.Debug("Closed pgx pool", zap.String("database", GetDBNameFromDSN(dsn)))
		*poolPtr = nil
		return nil
	}
}

// GetDBNameFromDSN extracts the database name from a postgres:// DSN for
// logging. Returns "unknown" when the DSN cannot be parsed.
func GetDBNameFromDSN(dsn string) string {
	trimmed := dsn
	if i := strings.Index(trimmed, "?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i+1 < len(trimmed) {
		return trimmed[i+1:]
	}
	return "unknown"
}
