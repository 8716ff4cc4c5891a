package logging

import (
	"context"
	"log/slog"
)

// LevelFilter passes only records at or above a minimum level to the
// wrapped handler, regardless of the wrapped handler's own level.
type LevelFilter struct {
	handler  slog.Handler
	minLevel slog.Leveler
}

// NewLevelFilter creates a new level filter handler. minLevel may be a
// *slog.LevelVar to change the threshold at runtime.
func NewLevelFilter(handler slog.Handler, minLevel slog.Leveler) *LevelFilter {
	return &LevelFilter{handler: handler, minLevel: minLevel}
}

func (h *LevelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel.Level() && h.handler.Enabled(ctx, level)
}

func (h *LevelFilter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.minLevel.Level() {
		return nil
	}
	return h.handler.Handle(ctx, r)
}

func (h *LevelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelFilter{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *LevelFilter) WithGroup(name string) slog.Handler {
	return &LevelFilter{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}
