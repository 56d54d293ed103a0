// Package session attaches an isolated database session to each test and
// manages the savepoint/truncate state machine, including mid-test switches
// between the two isolation strategies.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Mode is the isolation strategy for one test.
type Mode string

const (
	// ModeSavepoint runs the test inside a transaction with a fixed-name
	// savepoint; exit rolls everything back.
	ModeSavepoint Mode = "savepoint"
	// ModeTruncate runs statements directly; exit physically empties the
	// user tables and restarts identity sequences.
	ModeTruncate Mode = "truncate"
)

// SavepointName is the fixed savepoint marked at the start of every
// savepoint-mode session.
const SavepointName = "isokit_test_start"

// Querier is the query-capable handle handed to the test. In savepoint mode
// it routes through the session transaction; in truncate mode it talks to the
// dedicated connection directly.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Truncator is the slice of the table catalog the controller needs for
// truncate-mode cleanup.
type Truncator interface {
	TruncateAndReset(ctx context.Context, tables []string) error
}

// ResultState discriminates cleanup outcomes.
type ResultState string

const (
	// StateOK: all exit-actions completed normally.
	StateOK ResultState = "ok"
	// StateDegraded: cleanup finished but not on the normal path; Detail
	// carries what went wrong. Never fatal to the calling test.
	StateDegraded ResultState = "degraded"
)

// Result is the discriminated outcome of exit-actions. Cleanup never raises
// into the calling test; callers that care assert on Result instead.
type Result struct {
	State  ResultState
	Detail error
}

// OK reports whether cleanup completed on the normal path.
func (r Result) OK() bool { return r.State == StateOK }

func ok() Result { return Result{State: StateOK} }

func degraded(detail error) Result { return Result{State: StateDegraded, Detail: detail} }

// Controller owns the per-test state: the current isolation mode and the
// dedicated connection for the active test. It is idle between tests; Enter
// and Exit bracket exactly one test. The controller assumes sequential use —
// the engine documents that truncate-mode cleanup mutates store-wide state
// and must not run concurrently with another test on the same store.
type Controller struct {
	pool      *pgxpool.Pool
	truncator Truncator
	tables    func() []string // cached user-table list, supplied by the engine
	txOptions pgx.TxOptions
	logger    *zap.Logger

	active bool
	mode   Mode
	conn   *pgxpool.Conn
	tx     pgx.Tx
}

// NewController creates an idle controller. tables is consulted at truncate
// cleanup time so it always sees the engine's current catalog cache.
func NewController(pool *pgxpool.Pool, truncator Truncator, tables func() []string, txOptions pgx.TxOptions, logger *zap.Logger) *Controller {
	return &Controller{
		pool:      pool,
		truncator: truncator,
		tables:    tables,
		txOptions: txOptions,
		logger:    logger,
	}
}

// Active reports whether a test session is attached.
func (c *Controller) Active() bool { return c.active }

// Mode returns the current isolation mode. Only meaningful while active.
func (c *Controller) Mode() Mode { return c.mode }

// Enter transitions from idle into the requested mode on a freshly acquired
// dedicated connection. Entering savepoint mode opens the transaction and
// marks the savepoint; truncate mode needs no setup action.
func (c *Controller) Enter(ctx context.Context, mode Mode) error {
	if c.active {
		return fmt.Errorf("session already active (mode %s); Exit must run before the next Enter", c.mode)
	}
	if mode != ModeSavepoint && mode != ModeTruncate {
		return fmt.Errorf("unknown isolation mode %q", mode)
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire test session connection: %w", err)
	}
	c.conn = conn
	c.mode = mode
	c.active = true

	if mode == ModeSavepoint {
		if err := c.beginSavepoint(ctx); err != nil {
			conn.Release()
			c.conn = nil
			c.active = false
			return err
		}
	}

	c.logger.Debug("Test session attached", zap.String("mode", string(mode)))
	return nil
}

// beginSavepoint starts the session transaction and marks the fixed-name
// savepoint inside it.
func (c *Controller) beginSavepoint(ctx context.Context) error {
	tx, err := c.conn.BeginTx(ctx, c.txOptions)
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, "SAVEPOINT "+SavepointName); err != nil {
		// Roll the half-opened transaction back; its error is secondary.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			c.logger.Warn("Rollback after failed savepoint setup also failed", zap.Error(rbErr))
		}
		return fmt.Errorf("failed to mark savepoint: %w", err)
	}
	c.tx = tx
	return nil
}

// Querier returns the statement handle for the active session, or nil when
// idle.
func (c *Controller) Querier() Querier {
	if !c.active {
		return nil
	}
	if c.mode == ModeSavepoint && c.tx != nil {
		return c.tx
	}
	return c.conn
}

// Switch changes the isolation mode mid-test. Equal modes are a no-op.
// Otherwise the current mode's exit-actions run, then the new mode's entry
// actions. Switching savepoint→truncate intentionally discards everything
// written so far: the enclosing transaction is rolled back as part of the
// exit-action. That is documented behavior, not a defect.
func (c *Controller) Switch(ctx context.Context, newMode Mode) error {
	if !c.active {
		return fmt.Errorf("no active session to switch mode on")
	}
	if newMode != ModeSavepoint && newMode != ModeTruncate {
		return fmt.Errorf("unknown isolation mode %q", newMode)
	}
	if newMode == c.mode {
		return nil
	}

	if res := c.runExitActions(ctx); !res.OK() {
		c.logger.Warn("Exit-actions during mode switch were degraded", zap.Error(res.Detail))
	}
	c.mode = newMode

	if newMode == ModeSavepoint {
		if err := c.beginSavepoint(ctx); err != nil {
			return err
		}
	}
	c.logger.Debug("Switched isolation mode", zap.String("mode", string(newMode)))
	return nil
}

// Exit performs the current mode's exit-actions and unconditionally resets to
// idle with no attached connection, regardless of which branch ran or whether
// any exit-action failed. It never raises; degraded cleanup is reported
// through the Result.
func (c *Controller) Exit(ctx context.Context) Result {
	if !c.active {
		return ok()
	}

	res := c.runExitActions(ctx)

	c.tx = nil
	if c.conn != nil {
		c.conn.Release()
		c.conn = nil
	}
	c.active = false
	c.logger.Debug("Test session detached", zap.String("result", string(res.State)))
	return res
}

// runExitActions undoes the active test's effects according to the current
// mode. Failures are logged and folded into the Result, never raised.
func (c *Controller) runExitActions(ctx context.Context) Result {
	switch c.mode {
	case ModeSavepoint:
		return c.rollbackSession(ctx)
	case ModeTruncate:
		if err := c.truncator.TruncateAndReset(ctx, c.tables()); err != nil {
			c.logger.Error("Truncate cleanup failed", zap.Error(err))
			return degraded(err)
		}
		return ok()
	default:
		return degraded(fmt.Errorf("unknown isolation mode %q", c.mode))
	}
}

// rollbackSession attempts rollback to the named savepoint, then rolls back
// the enclosing transaction. If the savepoint rollback fails it falls back to
// an unconditional rollback; any further failure is logged, never raised.
func (c *Controller) rollbackSession(ctx context.Context) Result {
	tx := c.tx
	c.tx = nil
	if tx == nil {
		return ok()
	}

	if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+SavepointName); err != nil {
		c.logger.Warn("Rollback to savepoint failed, falling back to full rollback", zap.Error(err))
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			c.logger.Error("Fallback transaction rollback failed", zap.Error(rbErr))
			return degraded(errors.Join(err, rbErr))
		}
		// Isolation held via the full rollback, but not on the normal path.
		return degraded(err)
	}

	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		c.logger.Error("Session transaction rollback failed", zap.Error(err))
		return degraded(err)
	}
	return ok()
}
