// Package db manages the backing PostgreSQL server and the uniquely named
// test database the engine provisions on it: starting and stopping the
// embedded server, assigning free ports, and creating/dropping databases.
package db

import (
	"context"
	"fmt"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"go.uber.org/zap"

	"github.com/veiloq/isokit/config"
	"github.com/veiloq/isokit/connection"
	"github.com/veiloq/isokit/internal/cleanup"
)

// AssignRandomPort fills in cfg.Port with a free TCP port when it is 0. The
// config is modified in place.
func AssignRandomPort(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Port == 0 {
		freePort, err := connection.GetFreePort(cfg.Host)
		if err != nil {
			return fmt.Errorf("failed to get free port: %w", err)
		}
		cfg.Port = uint32(freePort)
		logger.Info("Assigned random free port", zap.Uint32("port", cfg.Port))
	}
	return nil
}

// StartServer boots an embedded PostgreSQL server using cfg, storing runtime
// data under instanceWorkDir. Returns the started instance or an error.
func StartServer(ctx context.Context, cfg config.Config, instanceWorkDir string, logger *zap.Logger) (*embeddedpostgres.EmbeddedPostgres, error) {
	embeddedConfig := embeddedpostgres.DefaultConfig().
		Version(embeddedpostgres.PostgresVersion(cfg.Version)).
		Port(cfg.Port).
		Database(cfg.Database).
		Username(cfg.Username).
		Password(cfg.Password).
		RuntimePath(instanceWorkDir).
		BinariesPath(cfg.BinariesPath).
		StartTimeout(cfg.StartTimeout)

	if cfg.ServerLog != nil {
		embeddedConfig = embeddedConfig.Logger(cfg.ServerLog)
	} else {
		embeddedConfig = embeddedConfig.Logger(nil)
	}

	if len(cfg.StartupParams) > 0 {
		// embedded-postgres has limited support for arbitrary startup flags.
		logger.Warn("StartupParams may not all take effect on the embedded server",
			zap.Any("params", cfg.StartupParams))
	}

	embeddedDB := embeddedpostgres.NewDatabase(embeddedConfig)
	logger.Info("Starting embedded postgres server",
		zap.Uint32("port", cfg.Port),
		zap.String("version", string(cfg.Version)))

	if err := embeddedDB.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded postgres: %w", err)
	}

	logger.Info("Embedded postgres server started")
	return embeddedDB, nil
}

// StopServer returns a teardown step that stops the embedded server. The
// pointer-to-pointer lets the step nil out the caller's variable after a
// successful stop so a second invocation is a no-op.
func StopServer(embeddedDBPtr **embeddedpostgres.EmbeddedPostgres, logger *zap.Logger) cleanup.Func {
	return func() error {
		embeddedDB := *embeddedDBPtr
		if embeddedDB == nil {
			return nil
		}
		logger.Debug("Stopping embedded postgres server")
		if err := embeddedDB.Stop(); err != nil {
			logger.Error("Error stopping embedded postgres server", zap.Error(err))
			return fmt.Errorf("error stopping embedded postgres: %w", err)
		}
		logger.Debug("Embedded postgres server stopped")
		*embeddedDBPtr = nil
		return nil
	}
}
