// Package catalog enumerates and manipulates the physical objects (tables,
// sequences, the schema itself) inside the engine's test database.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// MigrationTable is the migration-bookkeeping ledger. It lives in the active
// schema but is never part of the user-facing catalog and is never truncated.
const MigrationTable = "schema_migrations"

// ActiveSchema is the schema all user objects live in.
const ActiveSchema = "public"

// revisionSchema is where the atlas applier keeps its revision ledger.
const revisionSchema = "atlas_schema_revisions"

// Catalog inspects and rewrites the physical state of one test database
// through the engine's shared pool.
type Catalog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New binds a catalog to the shared pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Catalog {
	return &Catalog{pool: pool, logger: logger}
}

// ListUserTables returns the user-owned table names in the active schema in
// ascending order. The migration-bookkeeping table and names with system or
// internal prefixes are excluded.
func (c *Catalog) ListUserTables(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT tablename FROM pg_tables
		 WHERE schemaname = $1
		   AND tablename <> $2
		   AND tablename NOT LIKE 'pg\_%'
		   AND tablename NOT LIKE '\_%'
		 ORDER BY tablename`,
		ActiveSchema, MigrationTable,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table rows: %w", err)
	}
	return tables, nil
}

// TruncateAndReset empties all given tables with one cascading TRUNCATE that
// restarts their identity columns, then resets every application sequence to
// its initial value. Errors propagate; the caller decides whether a cleanup
// failure is fatal or merely degraded.
func (c *Catalog) TruncateAndReset(ctx context.Context, tables []string) error {
	if len(tables) == 0 {
		return nil
	}

	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = pgx.Identifier{ActiveSchema, t}.Sanitize()
	}
	stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(quoted, ", "))
	if _, err := c.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}

	// RESTART IDENTITY only covers sequences owned by table columns (serial
	// and identity); standalone application sequences are reset separately.
	rows, err := c.pool.Query(ctx,
		`SELECT s.sequencename FROM pg_sequences s
		 WHERE s.schemaname = $1
		   AND s.sequencename NOT LIKE '\_%'
		   AND s.sequencename NOT LIKE $2 || '%'
		   AND NOT EXISTS (
		       SELECT 1 FROM pg_depend d
		       JOIN pg_class c ON c.oid = d.objid
		       JOIN pg_namespace n ON n.oid = c.relnamespace
		       WHERE n.nspname = s.schemaname
		         AND c.relname = s.sequencename
		         AND d.deptype IN ('a', 'i')
		   )`,
		ActiveSchema, MigrationTable,
	)
	if err != nil {
		return fmt.Errorf("failed to list sequences: %w", err)
	}
	defer rows.Close()

	var sequences []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan sequence name: %w", err)
		}
		sequences = append(sequences, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating sequence rows: %w", err)
	}

	for _, seq := range sequences {
		quotedSeq := pgx.Identifier{ActiveSchema, seq}.Sanitize()
		if _, err := c.pool.Exec(ctx, fmt.Sprintf("ALTER SEQUENCE %s RESTART", quotedSeq)); err != nil {
			return fmt.Errorf("failed to restart sequence %q: %w", seq, err)
		}
	}

	c.logger.Debug("Truncated tables and reset sequences",
		zap.Int("tables", len(tables)),
		zap.Int("sequences", len(sequences)))
	return nil
}

// RecreateSchema drops the active schema and the revision ledger schema
// (tolerating their absence), recreates the active schema, and restores
// default access. Every statement runs on the pool's autocommit path: no
// ambient transaction may be open, because enum-type DDL applied by later
// migrations requires an immediate commit.
func (c *Catalog) RecreateSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", ActiveSchema),
		fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", revisionSchema),
		fmt.Sprintf("CREATE SCHEMA %s", ActiveSchema),
		fmt.Sprintf("GRANT ALL ON SCHEMA %s TO public", ActiveSchema),
	}
	for _, stmt := range stmts {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to recreate schema (%q): %w", stmt, err)
		}
	}
	c.logger.Debug("Recreated active schema", zap.String("schema", ActiveSchema))
	return nil
}
