package config

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veiloq/isokit/migration"
)

// Option configures the engine at construction time.
type Option func(*Settings)

// WithScriptMigrations applies the SQL scripts found in dir on every rebuild.
// Files are consumed in ascending name order; statements inside a file are
// separated by the literal "--> statement-breakpoint" marker.
func WithScriptMigrations(dir string) Option {
	return func(sts *Settings) { sts.applier = migration.NewScriptApplier(dir) }
}

// WithGooseMigrations applies goose-format migrations from dir on every
// rebuild, recording them in the standard bookkeeping table.
func WithGooseMigrations(dir string) Option {
	return func(sts *Settings) { sts.applier = migration.NewGooseApplier(dir) }
}

// WithApplier installs a caller-supplied migration applier. The applier must
// honor the migration.Applier contract: apply the complete ordered set, and
// tolerate being invoked a second time after the schema has been recreated.
func WithApplier(a migration.Applier) Option {
	return func(sts *Settings) { sts.applier = a }
}

// WithKeepDatabase prevents the test database from being dropped on teardown.
func WithKeepDatabase() Option {
	return func(sts *Settings) { sts.keepDatabase = true }
}

// WithSQLTxOptions provides custom transaction options for database/sql use.
func WithSQLTxOptions(txOpts *sql.TxOptions) Option {
	return func(sts *Settings) { sts.sqlTxOptions = txOpts }
}

// WithPgxTxOptions provides custom transaction options for pgx sessions.
func WithPgxTxOptions(txOpts pgx.TxOptions) Option {
	return func(sts *Settings) { sts.pgxTxOptions = txOpts }
}

// WithZapOptions provides additional options for the zap logger.
func WithZapOptions(zapOpts ...zap.Option) Option {
	return func(sts *Settings) { sts.zapOptions = append(sts.zapOptions, zapOpts...) }
}

// WithZapTestLevel sets the minimum log level for the zaptest logger.
func WithZapTestLevel(level zapcore.Level) Option {
	return func(sts *Settings) {
		atomicLevel := zap.NewAtomicLevelAt(level)
		sts.zapTestLevel = &atomicLevel
	}
}

// WithDSNParams provides additional parameters to be appended to the DSN.
func WithDSNParams(params map[string]string) Option {
	return func(sts *Settings) {
		if sts.dsnParams == nil {
			sts.dsnParams = make(map[string]string)
		}
		for k, v := range params {
			sts.dsnParams[k] = v
		}
	}
}

// WithStartupParams provides additional parameters for embedded server startup.
func WithStartupParams(params map[string]string) Option {
	return func(sts *Settings) {
		if sts.startupParams == nil {
			sts.startupParams = make(map[string]string)
		}
		for k, v := range params {
			sts.startupParams[k] = v
		}
	}
}

// WithBeforeMigrationHook registers a function to run before migrations are applied.
func WithBeforeMigrationHook(hook func(ctx context.Context, dsn string, logger *zap.Logger) error) Option {
	return func(sts *Settings) { sts.beforeMigrationHook = hook }
}

// WithAfterConnectionHook registers a function to run after the sql.DB and
// pgxpool.Pool connections to the test database are established.
func WithAfterConnectionHook(hook func(ctx context.Context, db *sql.DB, pool *pgxpool.Pool, logger *zap.Logger) error) Option {
	return func(sts *Settings) { sts.afterConnectionHook = hook }
}

// WithExternalServer connects to a pre-existing PostgreSQL server instead of
// booting an embedded one. dsn is the admin connection (e.g. to the
// 'postgres' database); cfg carries the host, port and credentials the server
// was started with.
func WithExternalServer(dsn string, cfg Config) Option {
	return func(sts *Settings) {
		sts.useExternalServer = true
		sts.externalDSN = dsn
		sts.externalConfig = cfg
	}
}

// ApplyOptions processes functional options and merges them into an initial
// Config. It returns the processed Settings and the final merged Config.
func ApplyOptions(initialConfig *Config, opts ...Option) (*Settings, Config) {
	settings := &Settings{
		applier:       &migration.NoOpApplier{},
		dsnParams:     make(map[string]string),
		startupParams: make(map[string]string),
		zapOptions:    make([]zap.Option, 0),
	}
	for _, opt := range opts {
		opt(settings)
	}

	finalConfig := *initialConfig

	// DSN params: options override config.
	mergedDSNParams := make(map[string]string)
	for k, v := range finalConfig.DSNParams {
		mergedDSNParams[k] = v
	}
	for k, v := range settings.dsnParams {
		mergedDSNParams[k] = v
	}
	finalConfig.DSNParams = mergedDSNParams

	// Startup params: options override config.
	mergedStartupParams := make(map[string]string)
	for k, v := range finalConfig.StartupParams {
		mergedStartupParams[k] = v
	}
	for k, v := range settings.startupParams {
		mergedStartupParams[k] = v
	}
	finalConfig.StartupParams = mergedStartupParams

	// KeepDatabase: config OR option enables it.
	finalConfig.KeepDatabase = finalConfig.KeepDatabase || settings.keepDatabase

	if settings.sqlTxOptions != nil {
		finalConfig.SQLTxOptions = settings.sqlTxOptions
	}
	if settings.pgxTxOptions != (pgx.TxOptions{}) {
		finalConfig.PgxTxOptions = settings.pgxTxOptions
	}

	return settings, finalConfig
}
