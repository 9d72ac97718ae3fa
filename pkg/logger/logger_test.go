package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCronLoggerForwardsToSlog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewCron(base, "scheduler")

	l.Info("wake", "now", "t0")
	l.Error(errors.New("boom"), "panic", "job", "cycle")

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG msg=wake component=scheduler now=t0")
	assert.Contains(t, out, "level=ERROR msg=panic component=scheduler error=boom job=cycle")
}
