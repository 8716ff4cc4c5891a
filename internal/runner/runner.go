// Package runner drives one change stream: it resumes from the persisted
// position, feeds every event to a handler and advances the position only
// after the handler succeeded.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/propagator/internal/checkpoint"
	"github.com/syntrixbase/propagator/internal/events"
	"github.com/syntrixbase/propagator/internal/metrics"
	"github.com/syntrixbase/propagator/internal/partition"
	"github.com/syntrixbase/propagator/internal/propagate"
	"github.com/syntrixbase/propagator/internal/recovery"
	"github.com/syntrixbase/propagator/internal/source"
)

// Reporter receives stream health updates. health.Checker implements it.
type Reporter interface {
	RegisterStream(stream string)
	RecordEvent(stream string)
	RecordError(stream string)
	RecordReconnect(stream string)
	SetState(stream, state string)
}

// Config configures a Runner.
type Config struct {
	Collection string
	Shard      partition.Shard
	// PreImage requests before and after images from the source.
	PreImage bool

	LoadTimeout      time.Duration
	SubscribeTimeout time.Duration
	WriteTimeout     time.Duration
	SaveTimeout      time.Duration

	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c *Config) applyDefaults() {
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 10 * time.Second
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 10 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// Options carries the optional collaborators of a Runner.
type Options struct {
	Logger   *slog.Logger
	Reporter Reporter
	// OnRunning is called once, when the runner first reaches StateRunning.
	OnRunning func()
}

// Runner processes the events of one collection in one shard.
type Runner struct {
	cfg      Config
	streamID string
	source   source.Source
	store    checkpoint.Store
	handler  propagate.Handler
	reporter Reporter
	logger   *slog.Logger
	backoff  *recovery.Backoff

	onRunning     func()
	onRunningOnce sync.Once

	state atomic.Int32

	mu       sync.RWMutex
	position events.Position
}

// New creates a runner. It fails on an invalid shard or missing collaborators.
func New(cfg Config, src source.Source, store checkpoint.Store, handler propagate.Handler, opts Options) (*Runner, error) {
	if err := cfg.Shard.Validate(); err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		return nil, errors.New("runner: collection is required")
	}
	if src == nil || store == nil || handler == nil {
		return nil, errors.New("runner: source, store and handler are required")
	}
	cfg.applyDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	streamID := cfg.Shard.StreamID(cfg.Collection)

	r := &Runner{
		cfg:       cfg,
		streamID:  streamID,
		source:    src,
		store:     store,
		handler:   handler,
		reporter:  opts.Reporter,
		logger:    logger.With("component", "runner", "stream", streamID),
		backoff:   recovery.NewBackoff(cfg.BackoffBase, cfg.BackoffMax, 0),
		onRunning: opts.OnRunning,
	}
	if r.reporter != nil {
		r.reporter.RegisterStream(streamID)
	}
	r.setState(StateStarting)
	return r, nil
}

// StreamID returns the resume key of the runner.
func (r *Runner) StreamID() string {
	return r.streamID
}

// State returns the current state. Safe for concurrent use.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Position returns the last persisted position.
func (r *Runner) Position() events.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position.Clone()
}

func (r *Runner) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	metrics.RunnerState.WithLabelValues(r.streamID).Set(float64(s))
	if r.reporter != nil {
		r.reporter.SetState(r.streamID, s.String())
	}
	if prev != s {
		r.logger.Info("Runner state changed", "from", prev, "to", s)
	}
}

func (r *Runner) fail(err error) error {
	r.setState(StateFailed)
	r.logger.Error("Runner failed", "error", err)
	return fmt.Errorf("stream %s: %w", r.streamID, err)
}

// Run processes events until ctx is canceled. It returns an error only when
// the stream cannot be started. Once running, subscription failures are
// retried indefinitely.
func (r *Runner) Run(ctx context.Context) error {
	r.setState(StateStarting)

	loadCtx, cancel := context.WithTimeout(ctx, r.cfg.LoadTimeout)
	pos, err := r.store.Get(loadCtx, r.streamID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			r.setState(StateStopped)
			return nil
		}
		metrics.PositionErrors.WithLabelValues(r.streamID).Inc()
		return r.fail(fmt.Errorf("failed to load resume position: %w", err))
	}
	r.mu.Lock()
	r.position = pos
	r.mu.Unlock()

	r.setState(StateAttached)
	sub, err := r.subscribe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			r.setState(StateStopped)
			return nil
		}
		return r.fail(fmt.Errorf("failed to open subscription: %w", err))
	}

	r.setState(StateRunning)
	r.logger.Info("Stream running",
		"collection", r.cfg.Collection,
		"shard", r.cfg.Shard.String(),
		"resume", pos.Fingerprint())
	if r.onRunning != nil {
		r.onRunningOnce.Do(r.onRunning)
	}

	for ctx.Err() == nil {
		evt, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			sub = r.reconnect(ctx, sub, err)
			if sub == nil {
				break
			}
			continue
		}
		r.backoff.Reset()
		r.apply(ctx, evt)
	}

	r.setState(StateDraining)
	if sub != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SaveTimeout)
		if err := sub.Close(closeCtx); err != nil {
			r.logger.Warn("Failed to close subscription", "error", err)
		}
		cancel()
	}
	r.setState(StateStopped)
	return nil
}

func (r *Runner) subscribe(ctx context.Context) (source.Subscription, error) {
	subCtx, cancel := context.WithTimeout(ctx, r.cfg.SubscribeTimeout)
	defer cancel()
	return r.source.Subscribe(subCtx, source.Request{
		Collection: r.cfg.Collection,
		Shard:      r.cfg.Shard,
		ResumeFrom: r.Position(),
		Options:    source.Options{PreImage: r.cfg.PreImage},
	})
}

// apply runs the handler for evt and persists its position on success. The
// handler and the save are detached from ctx cancellation so an event that
// started is finished during shutdown.
func (r *Runner) apply(ctx context.Context, evt *events.ChangeEvent) {
	detached := context.WithoutCancel(ctx)

	hctx, cancel := context.WithTimeout(detached, r.cfg.WriteTimeout)
	start := time.Now()
	err := r.handler.Handle(hctx, evt)
	cancel()
	metrics.HandlerLatency.WithLabelValues(r.streamID).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.EventsProcessed.WithLabelValues(r.streamID, metrics.ResultError).Inc()
		r.recordError()
		r.logger.Error("Failed to handle event",
			"position", evt.Position.Fingerprint(),
			"operation", evt.Operation,
			"document", evt.DocumentID,
			"error", err)
		return
	}
	metrics.EventsProcessed.WithLabelValues(r.streamID, metrics.ResultOK).Inc()

	sctx, cancel := context.WithTimeout(detached, r.cfg.SaveTimeout)
	err = r.store.Set(sctx, r.streamID, evt.Position)
	cancel()
	if err != nil {
		metrics.PositionErrors.WithLabelValues(r.streamID).Inc()
		r.recordError()
		r.logger.Error("Failed to save resume position",
			"position", evt.Position.Fingerprint(),
			"document", evt.DocumentID,
			"error", err)
		return
	}

	r.mu.Lock()
	r.position = evt.Position.Clone()
	r.mu.Unlock()
	metrics.PositionsSaved.WithLabelValues(r.streamID).Inc()
	if r.reporter != nil {
		r.reporter.RecordEvent(r.streamID)
	}
}

func (r *Runner) recordError() {
	if r.reporter != nil {
		r.reporter.RecordError(r.streamID)
	}
}

// reconnect closes sub and reopens the stream from the last persisted
// position, backing off between attempts. It returns nil once ctx is done.
func (r *Runner) reconnect(ctx context.Context, sub source.Subscription, cause error) source.Subscription {
	class := recovery.Classify(cause)
	metrics.Reconnects.WithLabelValues(r.streamID, class.String()).Inc()
	if r.reporter != nil {
		r.reporter.RecordReconnect(r.streamID)
	}
	r.logReconnect("Subscription interrupted", class, cause)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SaveTimeout)
	_ = sub.Close(closeCtx)
	cancel()

	for attempt := 1; ; attempt++ {
		delay := r.backoff.Next()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		next, err := r.subscribe(ctx)
		if err == nil {
			r.logger.Info("Subscription resumed",
				"attempt", attempt,
				"resume", r.Position().Fingerprint())
			return next
		}
		if ctx.Err() != nil {
			return nil
		}
		r.logReconnect("Reconnect failed", recovery.Classify(err), err, "attempt", attempt, "delay", delay)
	}
}

func (r *Runner) logReconnect(msg string, class recovery.Class, err error, args ...any) {
	args = append(args, "class", class.String(), "resume", r.Position().Fingerprint(), "error", err)
	if class == recovery.ClassHistoryLost {
		r.logger.Error(msg+"; resume position is no longer in the log, reset it to continue", args...)
		return
	}
	r.logger.Warn(msg, args...)
}
