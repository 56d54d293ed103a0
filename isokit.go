package isokit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq" // driver for the sql.DB pool
	"go.uber.org/zap"

	"github.com/veiloq/isokit/catalog"
	"github.com/veiloq/isokit/config"
	"github.com/veiloq/isokit/connection"
	"github.com/veiloq/isokit/db"
	"github.com/veiloq/isokit/internal/cleanup"
	"github.com/veiloq/isokit/internal/logger"
	"github.com/veiloq/isokit/migration"
	"github.com/veiloq/isokit/schema"
	"github.com/veiloq/isokit/session"
)

// Base directory for embedded-server runtime data.
const defaultRuntimeBasePath = ".isokit"

// Engine provisions an isolated, repeatable database state for each test in a
// suite. One engine owns one target database: a shared handle used for
// rebuild-class operations (fingerprinting, migration, schema recreate) plus
// a per-test session controller. Engines are explicit values, not process
// globals; multiple independent engines may coexist in one process.
//
// The engine performs no internal locking. Rebuilds must complete before any
// test runs, and truncate-mode cleanup must not run concurrently with another
// test's session on the same store; the embedding test runner is responsible
// for that sequencing.
type Engine struct {
	cfg      config.Config
	settings *config.Settings
	logger   *zap.Logger
	cleanup  *cleanup.Manager

	embedded   *embeddedpostgres.EmbeddedPostgres
	sqlDB      *sql.DB
	pool       *pgxpool.Pool
	dsn        string
	testDBName string

	cat         *catalog.Catalog
	ctrl        *session.Controller
	fingerprint string // "" means no fingerprint cached
	tables      []string
	rebuilds    int
}

// New creates an engine from the given configuration. No connection is made
// yet; the shared handle is created lazily by the first Setup call. When t is
// non-nil, logging goes through zaptest and Teardown is registered with
// t.Cleanup.
func New(t *testing.T, initialConfig config.Config, opts ...config.Option) (*Engine, error) {
	if err := initialConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initial configuration provided: %w", err)
	}

	settings, finalConfig := config.ApplyOptions(&initialConfig, opts...)

	// A nil *testing.T must stay nil inside the interface logger.Init checks.
	var tb logger.TB
	if t != nil {
		tb = t
	}
	log, _, err := logger.Init(tb, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	e := &Engine{
		cfg:      finalConfig,
		settings: settings,
		logger:   log,
	}

	if t != nil {
		t.Cleanup(func() {
			if err := e.Teardown(); err != nil {
				t.Errorf("Error during automatic isokit teardown: %v", err)
			}
		})
	} else {
		log.Warn("t *testing.T was nil; caller MUST call Teardown manually (e.g. using defer)")
	}

	return e, nil
}

// Setup brings the backing store in line with the declared schema. The first
// call creates the shared store handle; later calls reuse it. A changed (or
// missing) fingerprint triggers a rebuild: recreate the schema, apply
// migrations through the recreate-and-retry runner, refresh the table
// catalog. An unchanged fingerprint skips the rebuild entirely; repeated
// Setup calls with an unchanged schema never re-run migrations.
func (e *Engine) Setup(ctx context.Context, sch schema.Schema) error {
	if e.pool == nil {
		if err := e.connect(ctx); err != nil {
			return err
		}
	}

	fp := schema.Fingerprint(sch)
	if e.fingerprint == fp {
		e.logger.Debug("Schema fingerprint unchanged, skipping rebuild",
			zap.String("fingerprint", shortFingerprint(fp)))
		if len(e.tables) == 0 {
			tables, err := e.cat.ListUserTables(ctx)
			if err != nil {
				return fmt.Errorf("failed to refresh table catalog: %w", err)
			}
			e.tables = tables
		}
		return nil
	}

	return e.rebuild(ctx, fp)
}

// rebuild recreates the backing schema, applies migrations, and refreshes
// the cached catalog and fingerprint.
func (e *Engine) rebuild(ctx context.Context, fp string) error {
	e.rebuilds++
	e.logger.Info("Schema fingerprint changed, rebuilding backing store",
		zap.String("fingerprint", shortFingerprint(fp)),
		zap.Int("rebuild", e.rebuilds))

	if err := e.cat.RecreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to recreate schema for rebuild: %w", err)
	}

	if hook := e.settings.BeforeMigrationHook(); hook != nil {
		if err := hook(ctx, e.dsn, e.logger); err != nil {
			return fmt.Errorf("beforeMigrationHook failed: %w", err)
		}
	}

	runner := migration.NewRunner(e.settings.Applier(), e.cat, e.logger)
	if err := runner.Run(ctx, e.pool); err != nil {
		return err
	}

	tables, err := e.cat.ListUserTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh table catalog after rebuild: %w", err)
	}
	e.tables = tables
	e.fingerprint = fp
	return nil
}

// connect creates the shared store handle: it boots the embedded server
// unless an external one is configured, creates a uniquely named test
// database, connects both pools, and registers every acquired resource on a
// fresh teardown stack.
func (e *Engine) connect(ctx context.Context) (err error) {
	mgr := cleanup.NewManager(e.logger)
	e.cleanup = mgr
	defer func() {
		if err != nil {
			if cleanupErr := mgr.Execute(); cleanupErr != nil {
				e.logger.Error("Error during cleanup after connect failure", zap.Error(cleanupErr))
			}
			e.cleanup = nil
		}
	}()

	var adminDSN string
	if e.settings.UseExternalServer() {
		e.logger.Info("Using external PostgreSQL server")

		// Host/port/credentials come from the external server's config; the
		// engine-specific knobs keep their merged values.
		ext := e.settings.ExternalConfig()
		ext.DSNParams = e.cfg.DSNParams
		ext.SQLTxOptions = e.cfg.SQLTxOptions
		ext.PgxTxOptions = e.cfg.PgxTxOptions
		ext.KeepDatabase = e.cfg.KeepDatabase
		e.cfg = ext

		adminDSN = e.settings.ExternalDSN()
		if adminDSN == "" {
			return fmt.Errorf("dsn cannot be empty when using WithExternalServer")
		}
	} else {
		e.logger.Info("Starting dedicated embedded PostgreSQL server")

		if err = db.AssignRandomPort(&e.cfg, e.logger); err != nil {
			return fmt.Errorf("failed to assign port for embedded server: %w", err)
		}

		runtimeDirName, nameErr := db.GenerateUniqueName("runtime_")
		if nameErr != nil {
			return fmt.Errorf("failed to generate unique name for runtime path: %w", nameErr)
		}
		if err = os.MkdirAll(defaultRuntimeBasePath, 0o750); err != nil {
			return fmt.Errorf("failed to create base runtime directory %q: %w", defaultRuntimeBasePath, err)
		}
		workDir, absErr := filepath.Abs(filepath.Join(defaultRuntimeBasePath, runtimeDirName))
		if absErr != nil {
			return fmt.Errorf("failed to resolve runtime directory path: %w", absErr)
		}

		e.embedded, err = db.StartServer(ctx, e.cfg, workDir, e.logger)
		if err != nil {
			_ = os.RemoveAll(workDir)
			return fmt.Errorf("failed to start embedded server at %s: %w", workDir, err)
		}
		// Registered first so it runs last, after the server has stopped.
		mgr.Add(func() error {
			if rmErr := os.RemoveAll(workDir); rmErr != nil {
				return fmt.Errorf("failed to remove runtime dir %q: %w", workDir, rmErr)
			}
			return nil
		})
		mgr.Add(db.StopServer(&e.embedded, e.logger))

		adminDSN = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			e.cfg.Username, e.cfg.Password, e.cfg.Host, e.cfg.Port, "postgres")
	}

	e.testDBName, err = db.GenerateUniqueName("test_")
	if err != nil {
		return fmt.Errorf("failed to generate unique test database name: %w", err)
	}

	if _, err = db.CreateDatabase(ctx, e.cfg, e.testDBName, e.logger); err != nil {
		return fmt.Errorf("failed to create test database %q on server %s:%d: %w",
			e.testDBName, e.cfg.Host, e.cfg.Port, err)
	}
	mgr.Add(db.DropDatabaseFunc(adminDSN, e.testDBName, e.cfg.KeepDatabase, e.logger))

	e.sqlDB, e.pool, e.dsn, err = connection.ConnectPools(ctx, e.cfg, e.testDBName, e.logger)
	if err != nil {
		return fmt.Errorf("failed to connect pools: %w", err)
	}
	mgr.Add(connection.ClosePool(&e.pool, e.dsn, e.logger))
	mgr.Add(connection.CloseDB(&e.sqlDB, e.dsn, e.logger))

	if hook := e.settings.AfterConnectionHook(); hook != nil {
		if err = hook(ctx, e.sqlDB, e.pool, e.logger); err != nil {
			return fmt.Errorf("afterConnectionHook failed: %w", err)
		}
	}

	e.cat = catalog.New(e.pool, e.logger)
	e.ctrl = session.NewController(e.pool, e.cat, func() []string { return e.tables }, e.cfg.PgxTxOptions, e.logger)

	e.logger.Info("Shared store handle created", zap.String("database", e.testDBName))
	return nil
}

// Enter attaches an isolated session to the current test. The default mode is
// savepoint. When t is non-nil, Exit is registered with t.Cleanup, so the
// session is detached even if the test never calls Exit itself. Enter before
// a successful Setup (or after Teardown) fails with ErrNotInitialized.
func (e *Engine) Enter(ctx context.Context, t *testing.T, mode ...session.Mode) (*Session, error) {
	if e.pool == nil || e.ctrl == nil {
		return nil, ErrNotInitialized
	}
	m := session.ModeSavepoint
	if len(mode) > 0 {
		m = mode[0]
	}
	if err := e.ctrl.Enter(ctx, m); err != nil {
		return nil, err
	}
	if t != nil {
		t.Cleanup(func() {
			if res := e.Exit(context.Background()); !res.OK() {
				t.Logf("isokit: degraded session cleanup: %v", res.Detail)
			}
		})
	}
	return &Session{engine: e}, nil
}

// Exit undoes the active session's effects and resets the per-test state to
// idle. It never raises: cleanup failures are logged and reported through the
// Result, so one test's cleanup failure cannot abort the suite. Calling Exit
// with no active session is a no-op.
func (e *Engine) Exit(ctx context.Context) session.Result {
	if e.ctrl == nil {
		return session.Result{State: session.StateOK}
	}
	return e.ctrl.Exit(ctx)
}

// Reset clears the cached fingerprint and table catalog, keeping the shared
// handle open. The next Setup call rebuilds unconditionally. Diagnostic use.
func (e *Engine) Reset() {
	e.fingerprint = ""
	e.tables = nil
	e.logger.Debug("Cleared cached fingerprint and table catalog")
}

// Teardown releases the shared handle and every other acquired resource, and
// clears all cached state. Idempotent: calling it on an already torn-down
// (or never set up) engine returns nil. A later Setup reconnects from scratch.
func (e *Engine) Teardown() error {
	if e.cleanup == nil {
		e.fingerprint = ""
		e.tables = nil
		return nil
	}
	err := e.cleanup.Execute()
	e.cleanup = nil
	e.cat = nil
	e.ctrl = nil
	e.dsn = ""
	e.testDBName = ""
	e.fingerprint = ""
	e.tables = nil
	return err
}

// DB returns the database/sql pool for the test database, or nil before Setup.
func (e *Engine) DB() *sql.DB {
	return e.sqlDB
}

// Pool returns the pgx pool for the test database, or nil before Setup.
func (e *Engine) Pool() *pgxpool.Pool {
	return e.pool
}

// ConnectionString returns the DSN of the test database.
func (e *Engine) ConnectionString() string {
	return e.dsn
}

// Tables returns the cached user-owned table list from the last catalog
// refresh.
func (e *Engine) Tables() []string {
	return e.tables
}

// Rebuilds returns how many rebuilds this engine has performed. Tests assert
// on it to verify that an unchanged schema never rebuilds twice.
func (e *Engine) Rebuilds() int {
	return e.rebuilds
}

// Session is the per-test handle attached by Enter. It exposes the
// query-capable statement handle and mid-test mode switching.
type Session struct {
	engine *Engine
}

// Querier returns the statement handle for this session. In savepoint mode
// statements run inside the session transaction; in truncate mode they run
// directly on the dedicated connection.
func (s *Session) Querier() session.Querier {
	return s.engine.ctrl.Querier()
}

// Mode returns the session's current isolation mode.
func (s *Session) Mode() session.Mode {
	return s.engine.ctrl.Mode()
}

// SwitchMode changes the isolation mode mid-test. Switching away from
// savepoint mode rolls back the session transaction, discarding everything
// the test wrote so far.
func (s *Session) SwitchMode(ctx context.Context, m session.Mode) error {
	return s.engine.ctrl.Switch(ctx, m)
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
