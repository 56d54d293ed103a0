package session

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type nopTruncator struct{}

func (nopTruncator) TruncateAndReset(_ context.Context, _ []string) error { return nil }

func newIdleController(t *testing.T) *Controller {
	t.Helper()
	return NewController(nil, nopTruncator{}, func() []string { return nil }, pgx.TxOptions{}, zaptest.NewLogger(t))
}

func TestEnterRejectsUnknownMode(t *testing.T) {
	c := newIdleController(t)

	err := c.Enter(context.Background(), Mode("serializable"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown isolation mode")
	assert.False(t, c.Active())
}

func TestExitWhenIdleIsOK(t *testing.T) {
	c := newIdleController(t)

	res := c.Exit(context.Background())
	assert.True(t, res.OK())
	assert.Equal(t, StateOK, res.State)
	assert.NoError(t, res.Detail)
}

func TestSwitchWhenIdleFails(t *testing.T) {
	c := newIdleController(t)

	err := c.Switch(context.Background(), ModeTruncate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active session")
}

func TestSwitchRejectsUnknownMode(t *testing.T) {
	c := newIdleController(t)
	c.active = true
	c.mode = ModeTruncate

	err := c.Switch(context.Background(), Mode("bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown isolation mode")
	assert.Equal(t, ModeTruncate, c.Mode())
}

func TestSwitchSameModeIsNoOp(t *testing.T) {
	c := newIdleController(t)
	c.active = true
	c.mode = ModeTruncate

	require.NoError(t, c.Switch(context.Background(), ModeTruncate))
	assert.Equal(t, ModeTruncate, c.Mode())
}

func TestQuerierNilWhenIdle(t *testing.T) {
	c := newIdleController(t)
	assert.Nil(t, c.Querier())
}

func TestResultOK(t *testing.T) {
	assert.True(t, Result{State: StateOK}.OK())
	assert.False(t, Result{State: StateDegraded, Detail: errors.New("boom")}.OK())
}

func TestTruncateExitCarriesCleanupFailure(t *testing.T) {
	c := newIdleController(t)
	cause := errors.New("truncate refused")
	c.truncator = failingTruncator{err: cause}
	c.active = true
	c.mode = ModeTruncate

	res := c.Exit(context.Background())
	assert.Equal(t, StateDegraded, res.State)
	assert.ErrorIs(t, res.Detail, cause)
	assert.False(t, c.Active(), "controller must reset to idle even on degraded cleanup")
}

type failingTruncator struct{ err error }

func (f failingTruncator) TruncateAndReset(_ context.Context, _ []string) error { return f.err }
