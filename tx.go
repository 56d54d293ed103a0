package isokit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

// executeTestFn runs the user's test function, converting a panic into an
// error so the deferred rollback still runs. Generic over the transaction
// type so the sql.Tx and pgx.Tx runners share it.
func executeTestFn[T any](t *testing.T, fn func(ctx context.Context, tx T) error, ctx context.Context, tx T) (err error) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test panicked: %v", r)
		}
	}()
	return fn(ctx, tx)
}

// RunSQLTx executes a test function within a database/sql transaction on the
// test database and rolls it back afterwards. This is a lighter alternative
// to Enter for tests that only need plain transactional isolation and no
// mode switching.
func (e *Engine) RunSQLTx(ctx context.Context, t *testing.T, testFn func(ctx context.Context, tx *sql.Tx) error) {
	t.Helper()

	if e.sqlDB == nil {
		t.Fatalf("isokit: %v", ErrNotInitialized)
	}

	tx, err := e.sqlDB.BeginTx(ctx, e.cfg.SQLTxOptions)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			t.Logf("Warning: failed to rollback transaction: %v", rollbackErr)
		}
	}()

	if testErr := executeTestFn(t, testFn, ctx, tx); testErr != nil {
		// The test may expect an error or panic; log it, don't fail.
		t.Logf("Test function returned error (expected in some cases): %v", testErr)
	}
}

// RunTx executes a test function within a pgx transaction on the test
// database and rolls it back afterwards.
func (e *Engine) RunTx(ctx context.Context, t *testing.T, testFn func(ctx context.Context, tx pgx.Tx) error) {
	t.Helper()

	if e.pool == nil {
		t.Fatalf("isokit: %v", ErrNotInitialized)
	}

	tx, err := e.pool.BeginTx(ctx, e.cfg.PgxTxOptions)
	if err != nil {
		t.Fatalf("Failed to begin pgx transaction: %v", err)
	}
	defer func() {
		rollbackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rollbackErr := tx.Rollback(rollbackCtx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			t.Logf("Warning: failed to rollback pgx transaction: %v", rollbackErr)
		}
	}()

	if testErr := executeTestFn(t, testFn, ctx, tx); testErr != nil {
		t.Logf("Test function returned error (expected in some cases): %v", testErr)
	}
}
