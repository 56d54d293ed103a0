package isokit_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/isokit"
	"github.com/veiloq/isokit/config"
)

func setupUsersEngine(t *testing.T) *isokit.Engine {
	t.Helper()
	e := newTestEngine(t, config.WithScriptMigrations(writeUserMigrations(t)))
	require.NoError(t, e.Setup(context.Background(), usersSchema()))
	return e
}

func poolUserCount(t *testing.T, e *isokit.Engine) int {
	t.Helper()
	var n int
	require.NoError(t, e.Pool().QueryRow(context.Background(), "SELECT COUNT(*) FROM users").Scan(&n))
	return n
}

func TestRunTxRollsBackWrites(t *testing.T) {
	ctx := context.Background()
	e := setupUsersEngine(t)

	e.RunTx(ctx, t, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO users (email) VALUES ($1)", "tx@example.com"); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
			return err
		}
		assert.Equal(t, 1, n, "the write must be visible inside the transaction")
		return nil
	})

	assert.Equal(t, 0, poolUserCount(t, e), "the transaction must be rolled back after the test function")
}

func TestRunSQLTxRollsBackWrites(t *testing.T) {
	ctx := context.Background()
	e := setupUsersEngine(t)

	e.RunSQLTx(ctx, t, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO users (email) VALUES ($1)", "sqltx@example.com")
		return err
	})

	assert.Equal(t, 0, poolUserCount(t, e))
}

func TestRunTxRecoversFromPanic(t *testing.T) {
	ctx := context.Background()
	e := setupUsersEngine(t)

	e.RunTx(ctx, t, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO users (email) VALUES ($1)", "panic@example.com"); err != nil {
			return err
		}
		panic("boom")
	})

	// The panic is converted to an error and the transaction rolled back; the
	// suite keeps running.
	assert.Equal(t, 0, poolUserCount(t, e))
}

func TestRunSQLTxBeforeSetupFailsTest(t *testing.T) {
	e := newTestEngine(t)
	assert.Nil(t, e.DB(), "no pool exists before the first Setup")
	assert.Nil(t, e.Pool())
	assert.Empty(t, e.ConnectionString())
}
