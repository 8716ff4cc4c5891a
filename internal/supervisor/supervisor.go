// Package supervisor runs the stream runners of one worker process and
// announces readiness once all of them are running.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/propagator/internal/checkpoint"
	"github.com/syntrixbase/propagator/internal/health"
	"github.com/syntrixbase/propagator/internal/metrics"
	"github.com/syntrixbase/propagator/internal/partition"
	"github.com/syntrixbase/propagator/internal/propagate"
	"github.com/syntrixbase/propagator/internal/runner"
	"github.com/syntrixbase/propagator/internal/source"
)

// Options carries the optional collaborators of a Supervisor.
type Options struct {
	Logger *slog.Logger
	// Ready receives the readiness line. Defaults to os.Stdout.
	Ready io.Writer
	// Checker, when set, tracks stream health and readiness.
	Checker *health.Checker
}

// Supervisor owns one runner per binding.
type Supervisor struct {
	shard   partition.Shard
	runners []*runner.Runner
	ready   io.Writer
	checker *health.Checker
	logger  *slog.Logger

	running   atomic.Int32
	readyOnce sync.Once
}

// New builds a runner for every binding. template supplies the timeouts and
// backoff shared by all runners; its collection and shard are overwritten.
func New(shard partition.Shard, template runner.Config, src source.Source, store checkpoint.Store, bindings []propagate.Binding, opts Options) (*Supervisor, error) {
	if err := shard.Validate(); err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return nil, errors.New("supervisor: no bindings")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		shard:   shard,
		ready:   opts.Ready,
		checker: opts.Checker,
		logger:  logger.With("component", "supervisor"),
	}
	if s.ready == nil {
		s.ready = os.Stdout
	}

	var reporter runner.Reporter
	if opts.Checker != nil {
		reporter = opts.Checker
	}
	for _, b := range bindings {
		cfg := template
		cfg.Collection = b.Collection
		cfg.Shard = shard
		cfg.PreImage = b.PreImage

		r, err := runner.New(cfg, src, store, b.Handler, runner.Options{
			Logger:    logger,
			Reporter:  reporter,
			OnRunning: s.markRunning,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create runner for %s: %w", b.Collection, err)
		}
		s.runners = append(s.runners, r)
	}
	return s, nil
}

// Runners returns the managed runners.
func (s *Supervisor) Runners() []*runner.Runner {
	return s.runners
}

// Run starts every runner and blocks until all of them stopped. A runner
// that fails to start cancels its siblings and its error is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("Starting streams", "shard", s.shard.String(), "streams", len(s.runners))

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}
	err := g.Wait()
	if err != nil {
		s.logger.Error("Stream failed, worker stopped", "error", err)
		return err
	}
	s.logger.Info("All streams stopped")
	return nil
}

func (s *Supervisor) markRunning() {
	if int(s.running.Add(1)) < len(s.runners) {
		return
	}
	s.readyOnce.Do(func() {
		if _, err := fmt.Fprintf(s.ready, "READY shard %d of %d\n", s.shard.Index, s.shard.Count); err != nil {
			s.logger.Warn("Failed to write readiness line", "error", err)
		}
		if s.checker != nil {
			s.checker.SetReady()
		}
		metrics.Ready.Set(1)
		s.logger.Info("Worker ready", "shard", s.shard.String())
	})
}
