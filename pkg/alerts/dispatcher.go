package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/econeura/usage-guardian/pkg/metrics"
	"github.com/econeura/usage-guardian/pkg/model"
)

const (
	DefaultQueueSize   = 256
	DefaultSendTimeout = 10 * time.Second
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets how many alerts may wait for delivery before new ones are dropped.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithSendTimeout bounds each notifier call.
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithMetrics records delivery results.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher fans alerts out to notifiers on a background worker so the
// caller never waits on network delivery.
type Dispatcher struct {
	notifiers []Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	queueSize int
	timeout   time.Duration
	queue     chan model.Alert

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a dispatcher for the given notifiers.
func NewDispatcher(notifiers []Notifier, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifiers: notifiers,
		logger:    logger,
		queueSize: DefaultQueueSize,
		timeout:   DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan model.Alert, d.queueSize)
	return d
}

// Enqueue schedules alert for delivery. It never blocks; when the queue is
// full the alert is dropped and counted.
func (d *Dispatcher) Enqueue(alert model.Alert) {
	if len(d.notifiers) == 0 {
		return
	}
	select {
	case d.queue <- alert:
	default:
		d.metrics.ObserveDrop()
		d.logger.Warn("alert queue full, dropping alert",
			"tenant", alert.TenantID,
			"tier", alert.Tier,
			"alert", alert.ID,
		)
	}
}

// Start runs the delivery worker until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, d.done)
}

// Stop stops the worker after it has delivered everything already queued.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case alert := <-d.queue:
			d.deliver(alert)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case alert := <-d.queue:
			d.deliver(alert)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(alert model.Alert) {
	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := n.Send(ctx, alert)
		cancel()

		d.metrics.ObserveNotification(n.Name(), err)
		if err != nil {
			d.logger.Error("failed to send alert",
				"notifier", n.Name(),
				"tenant", alert.TenantID,
				"tier", alert.Tier,
				"error", err,
			)
		}
	}
}
