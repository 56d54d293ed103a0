package migration

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// CodeFailed is the stable machine-readable code carried by FailedError.
const CodeFailed = "MIGRATION_FAILED"

// FailedError reports that migration application failed even after the
// single recreate-and-retry attempt. Both underlying errors are kept so test
// output shows what went wrong on each attempt.
type FailedError struct {
	Original error
	Retry    error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("migration failed after recreate-and-retry: original: %v; retry: %v", e.Original, e.Retry)
}

// Code returns the stable error code.
func (e *FailedError) Code() string { return CodeFailed }

// Unwrap exposes both underlying errors to errors.Is/As.
func (e *FailedError) Unwrap() []error { return []error{e.Original, e.Retry} }

// SchemaRecreator rebuilds the target schema from nothing. Satisfied by
// catalog.Catalog.
type SchemaRecreator interface {
	RecreateSchema(ctx context.Context) error
}

// Runner drives an Applier under the recovery policy: on the first failure
// anywhere in the set, recreate the schema and re-apply everything exactly
// once. Migrations often fail against a dirty leftover schema (duplicate-type
// errors) yet succeed against a pristine one; the single retry handles that
// without looping on a genuinely broken migration.
type Runner struct {
	applier   Applier
	recreator SchemaRecreator
	logger    *zap.Logger
}

// NewRunner wires an applier to a schema recreator.
func NewRunner(applier Applier, recreator SchemaRecreator, logger *zap.Logger) *Runner {
	return &Runner{applier: applier, recreator: recreator, logger: logger}
}

// Run applies the migration set. A second failure after the recovery attempt
// returns a *FailedError embedding both errors; there is no third attempt.
func (r *Runner) Run(ctx context.Context, pool *pgxpool.Pool) error {
	firstErr := r.applier.Apply(ctx, pool, r.logger)
	if firstErr == nil {
		return nil
	}

	r.logger.Warn("Migration apply failed, recreating schema and retrying once", zap.Error(firstErr))
	if err := r.recreator.RecreateSchema(ctx); err != nil {
		return &FailedError{Original: firstErr, Retry: fmt.Errorf("schema recreate before retry failed: %w", err)}
	}

	if retryErr := r.applier.Apply(ctx, pool, r.logger); retryErr != nil {
		return &FailedError{Original: firstErr, Retry: retryErr}
	}

	r.logger.Info("Migration apply succeeded on retry after schema recreate")
	return nil
}
