package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Breakpoint is the literal marker separating statements inside a migration
// script. Statements are executed individually, in order of appearance.
const Breakpoint = "--> statement-breakpoint"

// bookkeepingTable records which scripts have already been applied. Kept in
// sync with catalog.MigrationTable; declared locally so this package does not
// depend on the catalog.
const bookkeepingTable = "schema_migrations"

const createBookkeepingSQL = `CREATE TABLE IF NOT EXISTS ` + bookkeepingTable + ` (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// ScriptApplier applies plain-SQL migration scripts from a directory. Files
// ending in .sql are consumed in ascending name order; the statements inside
// each file are split on the Breakpoint marker and executed sequentially.
// Applied scripts are recorded in the bookkeeping table and skipped on later
// runs, which makes a second Apply after a schema recreate start from scratch
// (the recreate wipes the ledger along with everything else).
type ScriptApplier struct {
	dir string
}

// NewScriptApplier creates an applier reading scripts from dir.
func NewScriptApplier(dir string) *ScriptApplier {
	return &ScriptApplier{dir: dir}
}

// Apply implements Applier.
func (a *ScriptApplier) Apply(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	scripts, err := a.discover()
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		logger.Debug("No migration scripts found", zap.String("dir", a.dir))
		return nil
	}

	if _, err := pool.Exec(ctx, createBookkeepingSQL); err != nil {
		return fmt.Errorf("failed to create migration bookkeeping table: %w", err)
	}

	applied, err := a.appliedSet(ctx, pool)
	if err != nil {
		return err
	}

	for _, name := range scripts {
		if applied[name] {
			logger.Debug("Skipping already applied migration script", zap.String("script", name))
			continue
		}
		if err := a.applyScript(ctx, pool, name); err != nil {
			return err
		}
		logger.Debug("Applied migration script", zap.String("script", name))
	}

	logger.Info("Migration scripts applied", zap.String("dir", a.dir), zap.Int("scripts", len(scripts)))
	return nil
}

// discover lists the .sql files in the directory in ascending name order.
func (a *ScriptApplier) discover() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations folder %q: %w", a.dir, err)
	}
	var scripts []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		scripts = append(scripts, entry.Name())
	}
	sort.Strings(scripts)
	return scripts, nil
}

func (a *ScriptApplier) appliedSet(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT name FROM "+bookkeepingTable)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan applied migration name: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applied migrations: %w", err)
	}
	return applied, nil
}

// applyScript executes every statement of one script in order, then records
// the script in the bookkeeping table.
func (a *ScriptApplier) applyScript(ctx context.Context, pool *pgxpool.Pool, name string) error {
	raw, err := os.ReadFile(filepath.Join(a.dir, name))
	if err != nil {
		return fmt.Errorf("failed to read migration script %q: %w", name, err)
	}

	for i, stmt := range SplitStatements(string(raw)) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d of migration script %q: %w", i+1, name, err)
		}
	}

	if _, err := pool.Exec(ctx, "INSERT INTO "+bookkeepingTable+" (name) VALUES ($1)", name); err != nil {
		return fmt.Errorf("failed to record migration script %q: %w", name, err)
	}
	return nil
}

// SplitStatements splits a script on the breakpoint marker and drops empty
// fragments. A script with no marker is a single statement.
func SplitStatements(script string) []string {
	parts := strings.Split(script, Breakpoint)
	stmts := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			stmts = append(stmts, trimmed)
		}
	}
	return stmts
}
