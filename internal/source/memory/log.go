// Package memory provides an in-process ordered change log implementing
// source.Source. It backs tests and local runs without a database.
package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/syntrixbase/propagator/internal/events"
	"github.com/syntrixbase/propagator/internal/source"
)

// Log is a totally ordered, append-only change log shared by all
// collections. Positions are 8-byte big-endian sequence numbers.
type Log struct {
	mu      sync.Mutex
	entries []*events.ChangeEvent
	seq     uint64
	notify  chan struct{}

	subscribeErr error
	failNext     map[string]error
	subscribes   map[string]int
	resumedFrom  map[string][]events.Position
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		notify:      make(chan struct{}),
		failNext:    make(map[string]error),
		subscribes:  make(map[string]int),
		resumedFrom: make(map[string][]events.Position),
	}
}

// Append assigns the next position to evt and publishes it.
func (l *Log) Append(evt *events.ChangeEvent) events.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	pos := make(events.Position, 8)
	binary.BigEndian.PutUint64(pos, l.seq)

	stored := *evt
	stored.Position = pos
	if stored.DocumentID == "" {
		stored.DocumentID = events.FormatID(stored.DocumentKey)
	}
	l.entries = append(l.entries, &stored)

	close(l.notify)
	l.notify = make(chan struct{})
	return pos.Clone()
}

// FailSubscribe makes every following Subscribe call return err until it is
// cleared with nil.
func (l *Log) FailSubscribe(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribeErr = err
}

// FailNext makes the next Next call on an open subscription to collection
// return err once, simulating connectivity loss.
func (l *Log) FailNext(collection string, err error) {
	l.mu.Lock()
	l.failNext[collection] = err
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()
}

// Subscribes returns how many subscriptions were opened for collection.
func (l *Log) Subscribes(collection string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribes[collection]
}

// ResumedFrom returns the resume positions passed to Subscribe, in order.
func (l *Log) ResumedFrom(collection string) []events.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Position(nil), l.resumedFrom[collection]...)
}

// Subscribe implements source.Source.
func (l *Log) Subscribe(ctx context.Context, req source.Request) (source.Subscription, error) {
	if err := req.Shard.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subscribeErr != nil {
		return nil, fmt.Errorf("failed to open subscription on %s: %w", req.Collection, l.subscribeErr)
	}
	l.subscribes[req.Collection]++
	l.resumedFrom[req.Collection] = append(l.resumedFrom[req.Collection], req.ResumeFrom.Clone())

	// Without a resume position delivery starts from now.
	start := len(l.entries)
	if !req.ResumeFrom.IsZero() {
		start = 0
		for i, e := range l.entries {
			if bytes.Compare(e.Position, req.ResumeFrom) > 0 {
				start = i
				break
			}
			start = i + 1
		}
	}

	return &subscription{log: l, req: req, next: start}, nil
}

type subscription struct {
	log    *Log
	req    source.Request
	next   int
	closed bool
}

// Next implements source.Subscription.
func (s *subscription) Next(ctx context.Context) (*events.ChangeEvent, error) {
	for {
		s.log.mu.Lock()
		if s.closed {
			s.log.mu.Unlock()
			return nil, source.ErrSubscriptionClosed
		}
		if err, ok := s.log.failNext[s.req.Collection]; ok {
			delete(s.log.failNext, s.req.Collection)
			s.log.mu.Unlock()
			return nil, err
		}
		for s.next < len(s.log.entries) {
			e := s.log.entries[s.next]
			s.next++
			if e.Collection != s.req.Collection || !s.req.Shard.Owns(e.DocumentKey) {
				continue
			}
			s.log.mu.Unlock()
			return s.materialize(e), nil
		}
		wait := s.log.notify
		s.log.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// materialize returns a copy carrying only the attributes the request asked for.
func (s *subscription) materialize(e *events.ChangeEvent) *events.ChangeEvent {
	out := *e
	out.Position = e.Position.Clone()
	if !s.req.Options.PreImage {
		out.FullDocumentBefore = nil
	}
	return &out
}

// Close implements source.Subscription.
func (s *subscription) Close(context.Context) error {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	s.closed = true
	return nil
}
