// Package logger adapts slog to the logger interface robfig/cron expects.
package logger

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Cron forwards cron's scheduling messages to slog under a component name.
type Cron struct {
	log *slog.Logger
}

var _ cron.Logger = (*Cron)(nil)

// NewCron returns a cron.Logger writing to log. Info messages are emitted at debug level.
func NewCron(log *slog.Logger, component string) *Cron {
	if log == nil {
		log = slog.Default()
	}
	return &Cron{log: log.With("component", component)}
}

// Info logs routine scheduler activity.
func (c *Cron) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, keysAndValues...)
}

// Error logs scheduler failures, including recovered job panics.
func (c *Cron) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
