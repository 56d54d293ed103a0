package isokit

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veiloq/isokit/schema"
	"github.com/veiloq/isokit/session"
)

// Kit is the engine surface embedding test suites program against: a
// one-time Setup of the declared schema, an Enter/Exit pair around every
// test, and a process-level Teardown.
type Kit interface {
	// Setup brings the backing store in line with the declared schema,
	// rebuilding only when the schema fingerprint changed since the last
	// call. Idempotent per unchanged fingerprint.
	Setup(ctx context.Context, sch schema.Schema) error
	// Enter attaches an isolated session to the current test and returns
	// its handle. Fails with ErrNotInitialized before a successful Setup.
	Enter(ctx context.Context, t *testing.T, mode ...session.Mode) (*Session, error)
	// Exit undoes the active session's effects. Never raises; degraded
	// cleanup is reported through the Result.
	Exit(ctx context.Context) session.Result
	// Reset clears the cached fingerprint and catalog so the next Setup
	// rebuilds unconditionally.
	Reset()
	// Teardown releases the shared handle and all cached state. Idempotent.
	Teardown() error
	// DB returns the database/sql pool for the test database.
	DB() *sql.DB
	// Pool returns the pgx pool for the test database.
	Pool() *pgxpool.Pool
	// ConnectionString returns the DSN of the test database.
	ConnectionString() string
}

var _ Kit = (*Engine)(nil)
