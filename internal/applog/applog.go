// Package applog is the shared logging convention: a stdlib *log.Logger per
// subsystem, prefixed so operators can grep by component.
package applog

import (
	"log"
	"os"
)

// Logger wraps the standard logger with a component tag.
type Logger struct {
	*log.Logger
	component string
}

// New creates a component-tagged logger writing to stderr.
func New(component string) *Logger {
	return &Logger{
		Logger:    log.New(os.Stderr, "["+component+"] ", log.LstdFlags),
		component: component,
	}
}

// Component returns the tag this logger was created with.
func (l *Logger) Component() string { return l.component }

// Degraded logs a subsystem-unavailable event that the caller is choosing
// to recover from rather than fail the request.
func (l *Logger) Degraded(reason string, err error) {
	if err != nil {
		l.Printf("degraded: %s: %v", reason, err)
		return
	}
	l.Printf("degraded: %s", reason)
}
