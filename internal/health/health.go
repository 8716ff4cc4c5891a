// Package health tracks per-stream health and worker readiness and serves
// them over HTTP together with the Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status represents the health status of the worker.
type Status string

const (
	StatusOK Status = "ok"

	// StatusDegraded indicates a stream keeps failing but is still running.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates a stream failed and will not recover.
	StatusUnhealthy Status = "unhealthy"
)

// degradedAfter is the number of errors since the last successful event that
// marks a stream degraded.
const degradedAfter = 5

// StreamHealth represents the health of a single stream.
type StreamHealth struct {
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	State       string     `json:"state"`
	LastEvent   *time.Time `json:"lastEvent,omitempty"`
	EventsTotal int64      `json:"eventsTotal"`
	Errors      int        `json:"errors"`
	Reconnects  int        `json:"reconnects"`

	recentErrors int
}

// Report is the full health report.
type Report struct {
	Status     Status         `json:"status"`
	Ready      bool           `json:"ready"`
	InstanceID string         `json:"instanceId"`
	Shard      string         `json:"shard,omitempty"`
	Uptime     string         `json:"uptime"`
	StartedAt  time.Time      `json:"startedAt"`
	Streams    []StreamHealth `json:"streams"`
}

// Checker provides health check functionality.
type Checker struct {
	startedAt  time.Time
	instanceID string
	shard      string
	logger     *slog.Logger

	// mu protects health state
	mu      sync.RWMutex
	streams map[string]*StreamHealth
	ready   bool
}

// NewChecker creates a new health checker. shard describes the worker's
// partition in reports.
func NewChecker(shard string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		startedAt:  time.Now(),
		instanceID: uuid.NewString(),
		shard:      shard,
		logger:     logger.With("component", "health"),
		streams:    make(map[string]*StreamHealth),
	}
}

// InstanceID returns the random identifier of this worker process.
func (h *Checker) InstanceID() string {
	return h.instanceID
}

// RegisterStream registers a stream for health tracking.
func (h *Checker) RegisterStream(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[name] = &StreamHealth{Name: name, Status: StatusOK}
}

// RecordEvent records a successfully handled event.
func (h *Checker) RecordEvent(stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sh, ok := h.streams[stream]; ok {
		now := time.Now()
		sh.LastEvent = &now
		sh.EventsTotal++
		sh.recentErrors = 0
		if sh.Status == StatusDegraded {
			sh.Status = StatusOK
		}
	}
}

// RecordError records a handler or persistence error.
func (h *Checker) RecordError(stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sh, ok := h.streams[stream]; ok {
		sh.Errors++
		sh.recentErrors++
		if sh.recentErrors > degradedAfter && sh.Status == StatusOK {
			sh.Status = StatusDegraded
		}
	}
}

// RecordReconnect records a subscription reconnect.
func (h *Checker) RecordReconnect(stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sh, ok := h.streams[stream]; ok {
		sh.Reconnects++
	}
}

// SetState records the runner state of a stream. A failed stream is unhealthy.
func (h *Checker) SetState(stream, state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sh, ok := h.streams[stream]; ok {
		sh.State = state
		if state == "failed" {
			sh.Status = StatusUnhealthy
		}
	}
}

// SetReady marks the worker ready.
func (h *Checker) SetReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = true
}

// IsReady reports whether the worker is ready.
func (h *Checker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// GetReport returns the current health report.
func (h *Checker) GetReport() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := Report{
		Status:     StatusOK,
		Ready:      h.ready,
		InstanceID: h.instanceID,
		Shard:      h.shard,
		Uptime:     time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt:  h.startedAt,
		Streams:    make([]StreamHealth, 0, len(h.streams)),
	}

	for _, sh := range h.streams {
		report.Streams = append(report.Streams, *sh)

		if sh.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
		} else if sh.Status == StatusDegraded && report.Status == StatusOK {
			report.Status = StatusDegraded
		}
	}
	sort.Slice(report.Streams, func(i, j int) bool {
		return report.Streams[i].Name < report.Streams[j].Name
	})

	return report
}

// Check returns the overall health status.
func (h *Checker) Check() Status {
	return h.GetReport().Status
}

// ServeHTTP implements http.Handler for the health endpoint.
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.GetReport()

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(report)
}

func (h *Checker) serveReady(w http.ResponseWriter, r *http.Request) {
	if !h.IsReady() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// Handler returns the mux serving /health, /ready and /metrics.
func (h *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", h)
	mux.HandleFunc("/ready", h.serveReady)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartServer serves the checker on addr until ctx is done.
func StartServer(ctx context.Context, addr string, checker *Checker) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           checker.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	checker.logger.Info("Health server starting", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
