// Package atlas provides a migration applier backed by the Atlas migration
// engine. The migration directory is resolved from an atlas.hcl file, so a
// project already managed by Atlas needs no extra configuration.
package atlas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ariga.io/atlas/sql/migrate"
	atlaspostgres "ariga.io/atlas/sql/postgres"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for the Atlas connection
	"go.uber.org/zap"

	"github.com/veiloq/isokit/connection"
)

// Applier implements migration.Applier using the Atlas library. Revision
// bookkeeping uses Atlas's NopRevisionReadWriter: a rebuild always starts
// from a recreated schema, so every migration file is replayed in full — the
// property the engine's retry policy requires.
type Applier struct {
	hclPath string

	initOnce   sync.Once
	migrateDir migrate.Dir
	dirPath    string
	initErr    error
}

// New creates an Applier resolving its migration directory from the atlas.hcl
// at hclPath. Parsing is deferred until the first Apply.
func New(hclPath string) *Applier {
	return &Applier{hclPath: hclPath}
}

// Apply implements migration.Applier. A missing atlas.hcl is not an error:
// the applier logs and skips, matching an empty migration set.
func (a *Applier) Apply(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	log := logger.With(zap.String("applier", "atlas"))
	a.initOnce.Do(func() { a.init(log) })

	if a.initErr != nil {
		return fmt.Errorf("atlas applier initialization failed: %w", a.initErr)
	}
	if a.migrateDir == nil {
		log.Info("No Atlas migration directory resolved, skipping")
		return nil
	}

	dsn := pool.Config().ConnString()
	dbName := connection.GetDBNameFromDSN(dsn)
	log.Info("Applying Atlas migrations",
		zap.String("database", dbName),
		zap.String("source_dir", a.dirPath))

	applyCtx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	drv, closeDrv, err := a.openDriver(applyCtx, dsn, log)
	if err != nil {
		return fmt.Errorf("failed to prepare Atlas driver for %q: %w", dbName, err)
	}
	defer closeDrv()

	exec, err := migrate.NewExecutor(drv, a.migrateDir, migrate.NopRevisionReadWriter{},
		migrate.WithLogger(&zapMigrateLogger{logger: log}))
	if err != nil {
		return fmt.Errorf("failed to create atlas executor for %q: %w", dbName, err)
	}

	// n=0 executes all pending files.
	if err := exec.ExecuteN(applyCtx, 0); err != nil {
		if errors.Is(err, migrate.ErrNoPendingFiles) {
			log.Info("No pending Atlas migrations", zap.String("database", dbName))
			return nil
		}
		return fmt.Errorf("failed to apply Atlas migrations to %q from %q: %w", dbName, a.dirPath, err)
	}

	log.Info("Atlas migrations applied", zap.String("database", dbName))
	return nil
}

// init resolves the atlas.hcl file and the migration directory it points at.
func (a *Applier) init(log *zap.Logger) {
	absHCLPath, err := filepath.Abs(a.hclPath)
	if err != nil {
		a.initErr = fmt.Errorf("failed to resolve atlas HCL path %q: %w", a.hclPath, err)
		return
	}

	if _, statErr := os.Stat(absHCLPath); statErr != nil {
		if os.IsNotExist(statErr) {
			log.Info("Atlas HCL file not found, applier will skip", zap.String("path", absHCLPath))
			return
		}
		a.initErr = fmt.Errorf("failed to stat atlas HCL file %q: %w", absHCLPath, statErr)
		return
	}

	var conf atlasConfigHCL
	if err := hclsimple.DecodeFile(absHCLPath, nil, &conf); err != nil {
		a.initErr = fmt.Errorf("failed to decode atlas HCL file %q: %w", absHCLPath, err)
		return
	}

	dirRel, found := findMigrationDir(&conf, absHCLPath, log)
	if !found {
		return
	}

	hclDir := filepath.Dir(absHCLPath)
	relativePath := strings.TrimPrefix(dirRel, "file://")
	absMigrationDir, err := filepath.Abs(filepath.Join(hclDir, relativePath))
	if err != nil {
		a.initErr = fmt.Errorf("failed to resolve migration dir %q relative to %q: %w", dirRel, hclDir, err)
		return
	}

	dir, err := migrate.NewLocalDir(absMigrationDir)
	if err != nil {
		a.initErr = fmt.Errorf("failed to open migration dir %q: %w", absMigrationDir, err)
		return
	}

	a.migrateDir = dir
	a.dirPath = absMigrationDir
	log.Debug("Resolved Atlas migration directory", zap.String("path", absMigrationDir))
}

// findMigrationDir prefers the 'local' environment block, falling back to the
// first environment that defines a migration dir.
func findMigrationDir(conf *atlasConfigHCL, hclPath string, log *zap.Logger) (string, bool) {
	for _, env := range conf.Envs {
		if env.Name == "local" && env.Migration != nil && env.Migration.Dir != "" {
			return env.Migration.Dir, true
		}
	}
	if len(conf.Envs) > 0 && conf.Envs[0].Migration != nil && conf.Envs[0].Migration.Dir != "" {
		log.Warn("Atlas 'local' env not found, falling back to first env",
			zap.String("hcl_path", hclPath),
			zap.String("env", conf.Envs[0].Name))
		return conf.Envs[0].Migration.Dir, true
	}
	log.Warn("No migration directory definition (env.migration.dir) in atlas config",
		zap.String("hcl_path", hclPath))
	return "", false
}

// openDriver opens a database/sql connection via the pgx stdlib driver and
// wraps it in the Atlas postgres driver.
func (a *Applier) openDriver(ctx context.Context, dsn string, log *zap.Logger) (migrate.Driver, func(), error) {
	stdDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open connection via pgx stdlib: %w", err)
	}
	closeDB := func() {
		if closeErr := stdDB.Close(); closeErr != nil {
			log.Warn("Error closing Atlas driver connection", zap.Error(closeErr))
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := stdDB.PingContext(pingCtx); err != nil {
		closeDB()
		return nil, func() {}, fmt.Errorf("failed to ping database for Atlas driver: %w", err)
	}

	drv, err := atlaspostgres.Open(stdDB)
	if err != nil {
		closeDB()
		return nil, func() {}, fmt.Errorf("failed to open atlas postgres driver: %w", err)
	}
	return drv, closeDB, nil
}

// --- HCL parsing structs ---

type atlasConfigHCL struct {
	Envs []*atlasEnvHCL `hcl:"env,block"`
}

type atlasEnvHCL struct {
	Name      string             `hcl:"name,label"`
	Migration *atlasMigrationHCL `hcl:"migration,block"`
}

type atlasMigrationHCL struct {
	Dir string `hcl:"dir"`
}

// zapMigrateLogger adapts a *zap.Logger to the migrate.Logger interface.
type zapMigrateLogger struct {
	logger *zap.Logger
}

// Log implements migrate.Logger.
func (l *zapMigrateLogger) Log(entry migrate.LogEntry) {
	switch e := entry.(type) {
	case migrate.LogExecution:
		l.logger.Info("Atlas migration execution starting",
			zap.String("from_version", e.From),
			zap.String("to_version", e.To),
			zap.Int("num_files", len(e.Files)))
	case migrate.LogFile:
		l.logger.Info("Applying migration file",
			zap.String("file", e.File.Name()),
			zap.Int("skip_stmts", e.Skip))
	case migrate.LogStmt:
		l.logger.Debug("Executing statement", zap.String("sql", e.SQL))
	case migrate.LogDone:
		l.logger.Info("Atlas migration execution finished")
	case migrate.LogError:
		l.logger.Error("Atlas migration error", zap.Error(e.Error))
	default:
		l.logger.Debug("Atlas migration log entry", zap.Any("entry", entry))
	}
}
