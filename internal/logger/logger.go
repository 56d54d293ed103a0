// Package logger initializes the zap logger used throughout isokit. When a
// *testing.T is available the logger is a zaptest logger so engine output
// lands in the test's log; otherwise a development logger writing to stdout
// and .isokit/LOG is used.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/veiloq/isokit/config"
)

// TB is the subset of testing.TB zaptest needs. Declared here so callers
// outside test binaries can pass nil without importing testing.
type TB = zaptest.TestingT

// Init builds the engine logger. It returns the logger, whether it is a
// zaptest logger, and an error. settings may be nil.
func Init(t TB, settings *config.Settings) (*zap.Logger, bool, error) {
	if t != nil {
		zaptestOpts := []zaptest.LoggerOption{}
		if settings != nil && settings.ZapTestLevel() != nil {
			zaptestOpts = append(zaptestOpts, zaptest.Level(*settings.ZapTestLevel()))
		}
		log := zaptest.NewLogger(t, zaptestOpts...)
		if settings != nil && len(settings.ZapOptions()) > 0 {
			log = log.WithOptions(settings.ZapOptions()...)
		}
		log.Debug("Initialized zaptest logger")
		return log, true, nil
	}

	logDir := ".isokit"
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	devConfig := zap.NewDevelopmentConfig()
	devConfig.OutputPaths = []string{"stdout", logDir + "/LOG"}
	devConfig.ErrorOutputPaths = []string{"stderr", logDir + "/LOG"}

	opts := []zap.Option{}
	if settings != nil {
		opts = append(opts, settings.ZapOptions()...)
	}
	log, err := devConfig.Build(opts...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create default zap logger: %w", err)
	}
	log.Debug("Initialized default zap development logger (no test context provided)")
	return log, false, nil
}
