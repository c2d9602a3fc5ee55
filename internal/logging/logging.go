// Package logging provides the structured logger used across the client
// core. Consumers that never configure one get a discard logger, so the
// library is silent by default.
package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.RWMutex
	current logrus.FieldLogger = newDiscardLogger()
)

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// SetLogger installs the logger used by the rest of the package tree.
// Passing nil resets to the discard logger.
func SetLogger(l logrus.FieldLogger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		current = newDiscardLogger()
		return
	}
	current = l
}

// Get returns the currently installed logger.
func Get() logrus.FieldLogger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// WithFields is a convenience wrapper around Get().WithFields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().WithFields(fields)
}
