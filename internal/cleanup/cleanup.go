// Package cleanup provides the LIFO teardown stack the engine uses to release
// everything it acquired during setup: connection pools, the test database,
// the embedded server and its runtime directory.
package cleanup

import (
	"sync"

	"go.uber.org/zap"
)

// Func is a single teardown step. It returns an error if the step fails.
type Func func() error

// Manager collects teardown steps during engine setup and runs them in
// reverse registration order exactly once. The engine creates a fresh Manager
// every time it connects, so a torn-down engine can be set up again.
type Manager struct {
	mu       sync.Mutex
	funcs    []Func
	err      error // first error encountered while executing
	logger   *zap.Logger
	execOnce sync.Once
}

// NewManager creates an empty teardown stack.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		funcs:  make([]Func, 0),
		logger: logger,
	}
}

// Add pushes a teardown step onto the stack. Nil funcs are ignored.
func (cm *Manager) Add(f Func) {
	if f == nil {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.funcs = append(cm.funcs, f)
}

// Execute runs all registered steps in LIFO order. Repeated calls are no-ops
// that return the result of the first run. Every failing step is logged, the
// first error is returned.
func (cm *Manager) Execute() error {
	cm.execOnce.Do(func() {
		cm.mu.Lock()
		defer cm.mu.Unlock()

		cm.logger.Debug("Running teardown stack")
		for i := len(cm.funcs) - 1; i >= 0; i-- {
			if err := cm.funcs[i](); err != nil {
				if cm.err == nil {
					cm.err = err
					cm.logger.Error("Teardown step failed", zap.Error(err))
				} else {
					cm.logger.Error("Additional teardown step failed", zap.Error(err))
				}
			}
		}
		cm.logger.Debug("Teardown stack finished")

		// Sync errors are expected on some platforms and safe to drop.
		_ = cm.logger.Sync()
	})
	return cm.err
}
