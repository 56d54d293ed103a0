package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/veiloq/isokit/config"
	"github.com/veiloq/isokit/internal/cleanup"
)

// CreateDatabase connects to the admin database described by cfg and creates
// the uniquely named test database. It returns the admin DSN used, so the
// caller can register the matching drop step.
func CreateDatabase(ctx context.Context, cfg config.Config, testDBName string, logger *zap.Logger) (adminDSN string, err error) {
	adminDSN = cfg.DSN()
	logger.Debug("Connecting to admin database to create test database", zap.String("db", cfg.Database))

	adminDB, err := sql.Open("postgres", adminDSN)
	if err != nil {
		return adminDSN, fmt.Errorf("failed to open connection to admin database %q: %w", cfg.Database, err)
	}
	defer adminDB.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = adminDB.PingContext(pingCtx); err != nil {
		return adminDSN, fmt.Errorf("failed to ping admin database %q: %w", cfg.Database, err)
	}

	quoted := pgx.Identifier{testDBName}.Sanitize()
	if _, err = adminDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", quoted)); err != nil {
		return adminDSN, fmt.Errorf("failed to create database %q: %w", testDBName, err)
	}

	logger.Info("Created test database", zap.String("database", testDBName))
	return adminDSN, nil
}

// DropDatabaseFunc returns a teardown step that terminates remaining
// connections to the test database and drops it. When keepDatabase is set the
// drop is skipped.
func DropDatabaseFunc(adminDSN, testDBName string, keepDatabase bool, logger *zap.Logger) cleanup.Func {
	return func() error {
		if keepDatabase {
			logger.Info("Skipping database drop because KeepDatabase is enabled", zap.String("database", testDBName))
			return nil
		}

		adminDB, err := sql.Open("postgres", adminDSN)
		if err != nil {
			logger.Error("Teardown: error connecting to admin DB to drop test DB", zap.String("database", testDBName), zap.Error(err))
			return fmt.Errorf("teardown: error connecting to admin DB to drop test DB %q: %w", testDBName, err)
		}
		defer adminDB.Close()

		// Teardown runs on its own contexts; the test's context may already
		// be done by the time this executes.
		termCtx, termCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer termCancel()
		_, termErr := adminDB.ExecContext(termCtx,
			`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
			testDBName,
		)
		if termErr != nil {
			logger.Warn("Teardown: failed to terminate connections to test DB, proceeding with drop", zap.String("database", testDBName), zap.Error(termErr))
		}

		dropCtx, dropCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer dropCancel()
		quoted := pgx.Identifier{testDBName}.Sanitize()
		if _, err := adminDB.ExecContext(dropCtx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoted)); err != nil {
			logger.Error("Teardown: error dropping test database", zap.String("database", testDBName), zap.Error(err))
			return fmt.Errorf("teardown: error dropping test database %q: %w", testDBName, err)
		}

		logger.Info("Teardown: dropped test database", zap.String("database", testDBName))
		return nil
	}
}

// GenerateUniqueName builds a unique, sanitized identifier from prefix plus
// random hex, suitable for database names and runtime directories. Lowercased
// and truncated to PostgreSQL's 63-character identifier limit.
func GenerateUniqueName(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes for name: %w", err)
	}
	name := strings.ToLower(prefix + hex.EncodeToString(b))
	name = strings.ReplaceAll(name, "-", "_")
	if len(name) > 63 {
		name = name[:63]
	}
	return name, nil
}
