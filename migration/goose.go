package migration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq" // driver for the goose connection
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// GooseApplier applies goose-format migrations from a directory. It opens its
// own database/sql connection from the pool's connection string because goose
// drives a *sql.DB, and records versions in the shared bookkeeping table.
//
// goose keeps package-level state (table name, base FS, logger); appliers
// must therefore not run concurrently, which matches the engine's sequential
// rebuild model.
type GooseApplier struct {
	dir string
}

// NewGooseApplier creates an applier reading goose migrations from dir.
func NewGooseApplier(dir string) *GooseApplier {
	return &GooseApplier{dir: dir}
}

// Apply implements Applier. Re-applying after a schema recreate works because
// goose's version table is dropped with the schema, so every migration counts
// as pending again.
func (a *GooseApplier) Apply(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	db, err := sql.Open("postgres", pool.Config().ConnString())
	if err != nil {
		return fmt.Errorf("failed to open sql connection for goose: %w", err)
	}
	defer db.Close()

	goose.SetLogger(&zapGooseLogger{logger: logger})
	goose.SetTableName(bookkeepingTable)
	goose.SetBaseFS(os.DirFS(a.dir))

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run goose migrations from %q: %w", a.dir, err)
	}

	logger.Info("Goose migrations applied", zap.String("dir", a.dir))
	return nil
}

// zapGooseLogger adapts a *zap.Logger to goose's logger interface.
type zapGooseLogger struct {
	logger *zap.Logger
}

func (l *zapGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug("goose: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *zapGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal("goose: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}
