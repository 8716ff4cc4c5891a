package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingHandler accepts every level and fails every record.
type failingHandler struct {
	err   error
	calls int
}

func (h *failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *failingHandler) Handle(context.Context, slog.Record) error {
	h.calls++
	return h.err
}
func (h *failingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *failingHandler) WithGroup(string) slog.Handler      { return h }

func TestLevelFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(NewLevelFilter(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}), level))

	logger.Info("below")
	logger.Warn("at", "k", "v")
	assert.NotContains(t, buf.String(), "below")
	assert.Contains(t, buf.String(), "msg=at k=v")

	level.Set(slog.LevelDebug)
	logger.WithGroup("g").With("a", 1).Info("now visible")
	assert.Contains(t, buf.String(), `msg="now visible" g.a=1`)
}

func TestMultiHandler_FansOutAndJoinsErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	first := &failingHandler{err: errors.New("disk full")}
	multi := NewMultiHandler(first, slog.NewTextHandler(buf, nil))

	err := multi.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "kept", 0))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, first.calls)
	assert.Contains(t, buf.String(), "kept", "a failing output does not starve the others")

	assert.True(t, multi.Enabled(context.Background(), slog.LevelDebug))
	assert.Same(t, multi, multi.WithGroup(""))
	assert.IsType(t, &MultiHandler{}, multi.WithAttrs([]slog.Attr{slog.String("k", "v")}))
}

func TestMultiHandler_RespectsLevels(t *testing.T) {
	info := &bytes.Buffer{}
	warn := &bytes.Buffer{}
	logger := slog.New(NewMultiHandler(
		slog.NewTextHandler(info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)).With("stream", "users")

	logger.Info("progress")
	logger.Error("broken")
	assert.Contains(t, info.String(), "progress")
	assert.Contains(t, info.String(), "broken")
	assert.NotContains(t, warn.String(), "progress")
	assert.Contains(t, warn.String(), "stream=users")
	assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))
}

func TestTextHandler_Format(t *testing.T) {
	buf := &bytes.Buffer{}
	h := NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(h).With("component", "runner").WithGroup("evt")

	ts := time.Date(2024, 1, 19, 10, 30, 0, 5e6, time.UTC)
	r := slog.NewRecord(ts, slog.LevelWarn, "Reconnect failed", 0)
	r.AddAttrs(
		slog.String("error", "connection reset by peer"),
		slog.Int("attempt", 3),
		slog.Duration("delay", 250*time.Millisecond),
		slog.Bool("fatal", false),
		slog.Group("pos", slog.String("fp", "abc123")),
		slog.String("empty", ""),
	)
	require.NoError(t, logger.Handler().Handle(context.Background(), r))

	assert.Equal(t,
		`2024-01-19T10:30:00.005Z WARN  Reconnect failed component=runner evt.error="connection reset by peer" evt.attempt=3 evt.delay=250ms evt.fatal=false evt.pos.fp=abc123 evt.empty=""`+"\n",
		buf.String())
}

func TestTextHandler_Values(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(NewTextHandler(buf, nil))

	logger.Debug("hidden")
	logger.Info("values",
		"err", errors.New("a=b"),
		"u", uint64(7),
		"f", 1.5,
		"at", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"list", []string{"x", "y"},
	)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasSuffix(out, `err="a=b" u=7 f=1.5 at=2024-01-01T00:00:00.000Z list="[x y]"`+"\n"), out)
}
