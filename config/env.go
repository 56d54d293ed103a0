package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FromEnv builds a Config from ISOKIT_* environment variables, layered over
// an optional isokit.yaml in the working directory and the package defaults.
// Recognized keys: host, port, database, username, password, binaries_path,
// start_timeout, keep_database.
func FromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ISOKIT")
	v.AutomaticEnv()

	v.SetConfigName("isokit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	base := DefaultConfig()
	v.SetDefault("host", base.Host)
	v.SetDefault("port", base.Port)
	v.SetDefault("database", base.Database)
	v.SetDefault("username", base.Username)
	v.SetDefault("password", base.Password)
	v.SetDefault("binaries_path", base.BinariesPath)
	v.SetDefault("start_timeout", base.StartTimeout)
	v.SetDefault("keep_database", base.KeepDatabase)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read isokit config file: %w", err)
		}
	}

	cfg := base
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetUint32("port")
	cfg.Database = v.GetString("database")
	cfg.Username = v.GetString("username")
	cfg.Password = v.GetString("password")
	cfg.BinariesPath = v.GetString("binaries_path")
	cfg.KeepDatabase = v.GetBool("keep_database")
	if d := v.GetDuration("start_timeout"); d > 0 {
		cfg.StartTimeout = d
	} else {
		cfg.StartTimeout = 15 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DatabaseURLFromEnv returns the admin DSN of an externally managed server,
// read from ISOKIT_DSN or DATABASE_URL in that order. Empty when neither is
// set, which means the engine should boot its own embedded server.
func DatabaseURLFromEnv() string {
	v := viper.New()
	_ = v.BindEnv("isokit_dsn", "ISOKIT_DSN")
	_ = v.BindEnv("database_url", "DATABASE_URL")
	if dsn := v.GetString("isokit_dsn"); dsn != "" {
		return dsn
	}
	return v.GetString("database_url")
}
