package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DedupHandler collapses identical records logged within a flush window
// into one record carrying a repeated_count attribute. A runner that cannot
// reach its database logs the same reconnect failure over and over; this
// keeps such storms to one line per window.
//
// Records are held until the window ends, the batch fills up or Close is
// called.
type DedupHandler struct {
	next  slog.Handler
	id    uint64
	state *dedupState
}

// dedupState is shared by a handler and everything derived from it.
type dedupState struct {
	mu        sync.Mutex
	entries   map[uint64]*dedupEntry
	order     []uint64
	batchSize int
	handlers  atomic.Uint64

	ticker    *time.Ticker
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type dedupEntry struct {
	handler slog.Handler
	record  slog.Record
	count   int
}

// DedupHandlerConfig holds configuration for DedupHandler
type DedupHandlerConfig struct {
	// BatchSize is the number of distinct records held before flushing (default: 100)
	BatchSize int
	// FlushTimeout is the dedup window (default: 1s)
	FlushTimeout time.Duration
}

// DefaultDedupHandlerConfig returns default configuration
func DefaultDedupHandlerConfig() DedupHandlerConfig {
	return DedupHandlerConfig{
		BatchSize:    100,
		FlushTimeout: time.Second,
	}
}

// NewDedupHandler creates a deduplicating handler with default config
func NewDedupHandler(handler slog.Handler) *DedupHandler {
	return NewDedupHandlerWithConfig(handler, DefaultDedupHandlerConfig())
}

// NewDedupHandlerWithConfig creates a deduplicating handler. Close must be
// called to stop its flush goroutine.
func NewDedupHandlerWithConfig(handler slog.Handler, cfg DedupHandlerConfig) *DedupHandler {
	def := DefaultDedupHandlerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}

	state := &dedupState{
		entries:   make(map[uint64]*dedupEntry),
		batchSize: cfg.BatchSize,
		ticker:    time.NewTicker(cfg.FlushTimeout),
		stop:      make(chan struct{}),
	}
	state.wg.Add(1)
	go state.flushLoop()

	return &DedupHandler{next: handler, state: state}
}

func (h *DedupHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle buffers r, or bumps the count of an identical buffered record.
func (h *DedupHandler) Handle(_ context.Context, r slog.Record) error {
	key := h.hashRecord(r)

	s := h.state
	s.mu.Lock()
	if entry, ok := s.entries[key]; ok {
		entry.count++
		s.mu.Unlock()
		return nil
	}
	s.entries[key] = &dedupEntry{handler: h.next, record: r.Clone(), count: 1}
	s.order = append(s.order, key)

	var pending []*dedupEntry
	if len(s.order) >= s.batchSize {
		pending = s.drainLocked()
	}
	s.mu.Unlock()

	return emit(pending)
}

// hashRecord hashes the level, message and attributes of r, plus the
// identity of the handler so records of differently scoped loggers never
// merge. The timestamp is ignored.
func (h *DedupHandler) hashRecord(r slog.Record) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(h.id, 10))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(r.Level.String())
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(a.Key)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(a.Value.String())
		return true
	})
	return d.Sum64()
}

func (h *DedupHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.derive(h.next.WithAttrs(attrs))
}

func (h *DedupHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(h.next.WithGroup(name))
}

func (h *DedupHandler) derive(next slog.Handler) *DedupHandler {
	return &DedupHandler{next: next, id: h.state.handlers.Add(1), state: h.state}
}

// Close flushes buffered records and stops the flush goroutine. It is safe
// to call more than once.
func (h *DedupHandler) Close() error {
	s := h.state
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.ticker.Stop()
	})
	return nil
}

func (s *dedupState) flushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

func (s *dedupState) flush() {
	s.mu.Lock()
	pending := s.drainLocked()
	s.mu.Unlock()
	_ = emit(pending)
}

// drainLocked removes and returns the buffered entries in arrival order.
func (s *dedupState) drainLocked() []*dedupEntry {
	if len(s.order) == 0 {
		return nil
	}
	pending := make([]*dedupEntry, 0, len(s.order))
	for _, key := range s.order {
		pending = append(pending, s.entries[key])
	}
	s.entries = make(map[uint64]*dedupEntry)
	s.order = s.order[:0]
	return pending
}

// emit hands entries to their handlers outside the lock, so a handler that
// logs cannot deadlock.
func emit(pending []*dedupEntry) error {
	var firstErr error
	for _, e := range pending {
		r := e.record
		if e.count > 1 {
			r.AddAttrs(slog.Int("repeated_count", e.count))
		}
		if err := e.handler.Handle(context.Background(), r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
