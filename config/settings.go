package config

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/veiloq/isokit/migration"
)

// Settings holds configuration applied via functional options.
type Settings struct {
	applier      migration.Applier // Migration applier (defaults to NoOpApplier).
	keepDatabase bool              // Explicitly keep the test database on teardown.
	sqlTxOptions *sql.TxOptions    // Custom transaction options for database/sql.
	pgxTxOptions pgx.TxOptions     // Custom transaction options for pgx.

	dsnParams     map[string]string // Additional DSN parameters.
	startupParams map[string]string // Additional server startup parameters (ignored with an external server).

	zapOptions   []zap.Option     // Options for zap logger creation.
	zapTestLevel *zap.AtomicLevel // Minimum level for the zaptest logger.

	beforeMigrationHook func(ctx context.Context, dsn string, logger *zap.Logger) error
	afterConnectionHook func(ctx context.Context, db *sql.DB, pool *pgxpool.Pool, logger *zap.Logger) error

	// useExternalServer, when true, makes the engine connect to an already
	// running PostgreSQL server instead of booting an embedded instance. The
	// engine still creates a uniquely named database on that server, so
	// engine-level isolation is preserved. The server's lifecycle is the
	// caller's responsibility; startup parameters are ignored in this mode.
	useExternalServer bool
	externalDSN       string // Admin DSN of the external server (e.g. to the 'postgres' db).
	externalConfig    Config // Host/Port/Username/Password used by the external server.
}

// --- Getters ---

// Applier returns the configured migration applier.
func (sts *Settings) Applier() migration.Applier {
	return sts.applier
}

func (sts *Settings) BeforeMigrationHook() func(ctx context.Context, dsn string, logger *zap.Logger) error {
	return sts.beforeMigrationHook
}

func (sts *Settings) AfterConnectionHook() func(ctx context.Context, db *sql.DB, pool *pgxpool.Pool, logger *zap.Logger) error {
	return sts.afterConnectionHook
}

func (sts *Settings) ZapTestLevel() *zap.AtomicLevel {
	return sts.zapTestLevel
}

func (sts *Settings) ZapOptions() []zap.Option {
	return sts.zapOptions
}

func (sts *Settings) UseExternalServer() bool {
	return sts.useExternalServer
}

func (sts *Settings) ExternalDSN() string {
	return sts.externalDSN
}

func (sts *Settings) ExternalConfig() Config {
	return sts.externalConfig
}

// --- Setters ---

// SetApplier installs a migration applier. Used by option constructors in
// other packages (e.g. the atlas applier) that cannot touch unexported fields.
func (sts *Settings) SetApplier(a migration.Applier) {
	sts.applier = a
}
