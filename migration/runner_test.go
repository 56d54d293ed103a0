package migration_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/veiloq/isokit/migration"
)

// stubApplier fails for the first failUntil calls, then succeeds.
type stubApplier struct {
	calls     int
	failUntil int
	errs      []error
}

func (a *stubApplier) Apply(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	a.calls++
	if a.calls <= a.failUntil {
		err := errors.New("apply attempt failed")
		if len(a.errs) >= a.calls {
			err = a.errs[a.calls-1]
		}
		return err
	}
	return nil
}

type stubRecreator struct {
	calls int
	err   error
}

func (r *stubRecreator) RecreateSchema(ctx context.Context) error {
	r.calls++
	return r.err
}

func TestRunnerFirstAttemptSucceeds(t *testing.T) {
	applier := &stubApplier{}
	recreator := &stubRecreator{}
	runner := migration.NewRunner(applier, recreator, zaptest.NewLogger(t))

	require.NoError(t, runner.Run(context.Background(), nil))
	assert.Equal(t, 1, applier.calls)
	assert.Equal(t, 0, recreator.calls, "no recreate when the first attempt succeeds")
}

func TestRunnerRecoversOnceAfterRecreate(t *testing.T) {
	// A dirty leftover schema makes the first attempt fail; the retry runs
	// against a pristine schema and succeeds.
	applier := &stubApplier{failUntil: 1}
	recreator := &stubRecreator{}
	runner := migration.NewRunner(applier, recreator, zaptest.NewLogger(t))

	require.NoError(t, runner.Run(context.Background(), nil))
	assert.Equal(t, 2, applier.calls)
	assert.Equal(t, 1, recreator.calls)
}

func TestRunnerFailsAfterSecondAttempt(t *testing.T) {
	origErr := errors.New(`type "mood" already exists`)
	retryErr := errors.New("syntax error at or near CREAT")
	applier := &stubApplier{failUntil: 2, errs: []error{origErr, retryErr}}
	recreator := &stubRecreator{}
	runner := migration.NewRunner(applier, recreator, zaptest.NewLogger(t))

	err := runner.Run(context.Background(), nil)
	require.Error(t, err)

	var failed *migration.FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, migration.CodeFailed, failed.Code())
	assert.ErrorIs(t, err, origErr)
	assert.ErrorIs(t, err, retryErr)
	assert.Contains(t, err.Error(), origErr.Error())
	assert.Contains(t, err.Error(), retryErr.Error())

	assert.Equal(t, 2, applier.calls, "no third attempt")
	assert.Equal(t, 1, recreator.calls)
}

func TestRunnerRecreateFailureEndsRun(t *testing.T) {
	origErr := errors.New("apply failed on dirty schema")
	recreateErr := errors.New("permission denied for schema public")
	applier := &stubApplier{failUntil: 2, errs: []error{origErr}}
	recreator := &stubRecreator{err: recreateErr}
	runner := migration.NewRunner(applier, recreator, zaptest.NewLogger(t))

	err := runner.Run(context.Background(), nil)
	require.Error(t, err)

	var failed *migration.FailedError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, origErr)
	assert.ErrorIs(t, failed.Retry, recreateErr)
	assert.Equal(t, 1, applier.calls, "no retry when the recreate itself failed")
}
