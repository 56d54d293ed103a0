package migration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veiloq/isokit/migration"
)

func TestSplitStatements(t *testing.T) {
	script := `CREATE TABLE users (
	id bigint PRIMARY KEY,
	email text NOT NULL
);
--> statement-breakpoint
CREATE UNIQUE INDEX users_email_idx ON users (email);
--> statement-breakpoint
CREATE TYPE mood AS ENUM ('ok', 'meh');`

	stmts := migration.SplitStatements(script)
	assert.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE users")
	assert.Contains(t, stmts[1], "users_email_idx")
	assert.Contains(t, stmts[2], "CREATE TYPE mood")
}

func TestSplitStatementsNoMarker(t *testing.T) {
	stmts := migration.SplitStatements("SELECT 1;")
	assert.Equal(t, []string{"SELECT 1;"}, stmts)
}

func TestSplitStatementsDropsEmptyFragments(t *testing.T) {
	script := "--> statement-breakpoint\nCREATE TABLE t (id int);\n--> statement-breakpoint\n\n"
	stmts := migration.SplitStatements(script)
	assert.Equal(t, []string{"CREATE TABLE t (id int);"}, stmts)
}

func TestSplitStatementsEmptyScript(t *testing.T) {
	assert.Empty(t, migration.SplitStatements(""))
	assert.Empty(t, migration.SplitStatements("   \n\t"))
}
