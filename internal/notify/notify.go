// Package notify fans session lifecycle events out to delivery sinks:
// webhooks, email, and a Redis stream for downstream consumers. Publishing
// never blocks the orchestrator; events are dropped (and counted) when the
// buffer is full.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"streamcast/internal/observability/metrics"
	"streamcast/internal/orchestrator"
)

// Sink delivers one event to a destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event orchestrator.Event) error
}

// Config configures the notifier dispatcher.
type Config struct {
	Buffer          int
	DeliveryTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
}

type registration struct {
	sink Sink
	min  orchestrator.Severity
}

// Notifier buffers events and delivers them from a single dispatch
// goroutine. Sinks must be added before Start.
type Notifier struct {
	buffer  int
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder

	sinks []registration

	// mu serializes sends against the channel close so a Publish racing
	// Close cannot send on a closed channel.
	mu      sync.RWMutex
	ch      chan orchestrator.Event
	done    chan struct{}
	started atomic.Bool
	closed  bool
}

func New(cfg Config) *Notifier {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.New()
	}
	return &Notifier{
		buffer:  cfg.Buffer,
		timeout: cfg.DeliveryTimeout,
		logger:  logger.With("component", "notifier"),
		metrics: recorder,
		ch:      make(chan orchestrator.Event, cfg.Buffer),
		done:    make(chan struct{}),
	}
}

// AddSink registers a sink that receives events at or above min severity.
func (n *Notifier) AddSink(sink Sink, min orchestrator.Severity) {
	if n.started.Load() {
		panic("notify: AddSink after Start")
	}
	n.sinks = append(n.sinks, registration{sink: sink, min: min})
}

// Start launches the dispatch loop.
func (n *Notifier) Start() {
	if !n.started.CompareAndSwap(false, true) {
		return
	}
	go n.run()
}

// Publish enqueues an event without blocking. Events are dropped when the
// notifier is closed or the buffer is full.
func (n *Notifier) Publish(event orchestrator.Event) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		n.drop(event)
		return
	}
	select {
	case n.ch <- event:
		n.mu.RUnlock()
	default:
		n.mu.RUnlock()
		n.drop(event)
	}
}

func (n *Notifier) drop(event orchestrator.Event) {
	n.metrics.ObserveNotifierDrop()
	n.logger.Warn("event dropped",
		"kind", event.Kind, "session_id", event.SessionID)
}

// Close stops accepting events and drains the buffer, waiting until the
// dispatcher finishes or ctx expires.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.ch)
	}
	n.mu.Unlock()
	if !n.started.Load() {
		return nil
	}
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for event := range n.ch {
		n.dispatch(event)
	}
}

func (n *Notifier) dispatch(event orchestrator.Event) {
	for _, reg := range n.sinks {
		if severityRank(event.Severity) < severityRank(reg.min) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := reg.sink.Deliver(ctx, event)
		cancel()
		n.metrics.ObserveNotifierDelivery(reg.sink.Name(), err)
		if err != nil {
			n.logger.Error("event delivery failed",
				"sink", reg.sink.Name(), "kind", event.Kind, "session_id", event.SessionID, "error", err)
		}
	}
}

func severityRank(s orchestrator.Severity) int {
	switch s {
	case orchestrator.SeverityError:
		return 2
	case orchestrator.SeverityWarning:
		return 1
	default:
		return 0
	}
}
