// Package config holds the engine configuration: the connection descriptor
// for the backing PostgreSQL server (embedded or external), transaction
// options for per-test sessions, and the functional options that select the
// migration applier and tune logging.
package config

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Config describes the PostgreSQL server the engine provisions its test
// database on. With Port 0 and no external server configured, an embedded
// server is booted on a random free port.
type Config struct {
	Version      PostgresVersion // Embedded server release, e.g. V16_8.
	Host         string          // Host for the server to listen on. Defaults to "localhost".
	Port         uint32          // Port for the server. 0 selects a random free port.
	Database     string          // Initial/admin database. Must not be empty.
	Username     string          // Database user. Must not be empty.
	Password     string          // Database password. Must not be empty.
	BinariesPath string          // Optional path to existing postgres binaries. If empty, downloads.
	StartTimeout time.Duration   // How long to wait for the server to start. Default 15s.
	ServerLog    *os.File        // Where raw postgres output goes. Default os.Stderr; nil discards.

	StartupParams map[string]string // Additional server parameters for postgresql.conf.
	DSNParams     map[string]string // Additional parameters appended to the DSN (e.g. "search_path=public").

	KeepDatabase bool           // If true, do not drop the test database on teardown.
	SQLTxOptions *sql.TxOptions // Transaction options for database/sql sessions. Default nil.
	PgxTxOptions pgx.TxOptions  // Transaction options for pgx sessions. Default empty struct.
}

// Validate checks that the fields every connection path needs are set.
func (c *Config) Validate() error {
	var errs []string
	// Port 0 is valid: it requests random port selection.
	if c.Database == "" {
		errs = append(errs, "Database must not be empty")
	}
	if c.Username == "" {
		errs = append(errs, "Username must not be empty")
	}
	if c.Password == "" {
		errs = append(errs, "Password must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, ", "))
	}
	return nil
}

// DefaultConfig returns a configuration suitable for a throwaway embedded
// server: PostgreSQL 16, random port, fixed test credentials.
func DefaultConfig() Config {
	return Config{
		Version:       V16_8,
		Host:          "localhost",
		Port:          0,
		Database:      "postgres",
		Username:      "isokit",
		Password:      "isokit",
		StartTimeout:  15 * time.Second,
		StartupParams: map[string]string{},
		ServerLog:     os.Stderr,
		DSNParams:     nil,
		KeepDatabase:  false,
		SQLTxOptions:  nil,
		PgxTxOptions:  pgx.TxOptions{},
	}
}

// DSN constructs the connection string for the configured database. The port
// must already be assigned (either fixed or picked randomly at server start).
func (c *Config) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	baseDSN := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Username,
		c.Password,
		host,
		c.Port,
		c.Database,
	)
	if len(c.DSNParams) > 0 {
		params := make([]string, 0, len(c.DSNParams))
		for k, v := range c.DSNParams {
			params = append(params, fmt.Sprintf("%s=%s", k, v))
		}
		return baseDSN + "&" + strings.Join(params, "&")
	}
	return baseDSN
}
