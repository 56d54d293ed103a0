package isokit

import "errors"

// Error codes carried by the engine's typed errors. Callers branch on these
// instead of matching message text.
const (
	// CodeNotInitialized is returned when a per-test operation runs before
	// Setup has succeeded (or after Teardown without a new Setup).
	CodeNotInitialized = "NOT_INITIALIZED"

	// CodeMigrationFailed mirrors migration.CodeFailed for callers that only
	// import the root package.
	CodeMigrationFailed = "MIGRATION_FAILED"
)

// EngineError is a typed engine failure with a stable machine-readable code.
type EngineError struct {
	code    string
	message string
}

func (e *EngineError) Error() string { return e.message }

// Code returns the stable error code.
func (e *EngineError) Code() string { return e.code }

// ErrNotInitialized is returned by Enter (and the catalog accessors) when the
// engine has no live store handle. The message is stable and assertable.
var ErrNotInitialized = &EngineError{
	code:    CodeNotInitialized,
	message: "isokit: engine not initialized: Setup must succeed before per-test operations",
}

// ErrorCode extracts the machine-readable code from err, unwrapping as needed.
// It returns "" for untyped errors.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}
