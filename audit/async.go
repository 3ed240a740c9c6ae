package audit

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"p2pdir/metrics"
)

// DefaultQueueSize is the number of entries Async buffers before dropping.
const DefaultQueueSize = 256

var (
	ErrQueueFull = errors.New("audit queue full")
	ErrClosed    = errors.New("audit notifier closed")
)

// Async decouples request handling from the collaborator: Notify only
// enqueues, a single worker delivers entries in order.
type Async struct {
	next    Notifier
	log     zerolog.Logger
	metrics *metrics.Tracker

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}
}

// NewAsync starts the delivery worker. m may be nil.
func NewAsync(next Notifier, size int, log zerolog.Logger, m *metrics.Tracker) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &Async{
		next:    next,
		log:     log.With().Str("component", "audit").Logger(),
		metrics: m,
		queue:   make(chan Entry, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues e without blocking.
func (a *Async) Notify(_ context.Context, e Entry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		a.metrics.RecordAuditDropped()
		return ErrQueueFull
	}
}

// Pending returns the number of queued entries.
func (a *Async) Pending() int {
	return len(a.queue)
}

// Close stops accepting entries and waits until the queued ones have been
// delivered or ctx expires.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%d audit entries not delivered", len(a.queue))
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		if err := a.next.Notify(context.Background(), e); err != nil {
			a.metrics.RecordAuditFailure()
			a.log.Warn().Err(err).
				Str("user", e.User).
				Str("operation", e.Operation).
				Msg("audit delivery failed")
		}
	}
}
