package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"firestige.xyz/l2vpn/internal/metrics"
)

const defaultQueueSize = 1024

// ErrQueueFull is returned when an event is dropped at the tail of a full queue.
var ErrQueueFull = errors.New("l2vpn: event queue full")

// Queue decouples producers from a slow sink: Report never blocks, events are delivered in
// order by one goroutine, and the newest event is dropped when the buffer is full.
type Queue struct {
	next Reporter

	mu     sync.RWMutex
	closed bool
	ch     chan Event
	done   chan struct{}
}

// NewQueue starts the delivery goroutine for next.
func NewQueue(next Reporter, size int) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &Queue{
		next: next,
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue) Name() string { return q.next.Name() }

// Report enqueues ev.
func (q *Queue) Report(_ context.Context, ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueFull
	}

	select {
	case q.ch <- ev:
		return nil
	default:
		metrics.EventsDroppedTotal.Inc()
		return ErrQueueFull
	}
}

// Close drains queued events into the sink and closes it.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	<-q.done
	return q.next.Close()
}

func (q *Queue) loop() {
	defer close(q.done)
	for ev := range q.ch {
		if err := q.next.Report(context.Background(), ev); err != nil {
			slog.Warn("event report failed",
				"reporter", q.next.Name(),
				"type", ev.Type,
				"mac", ev.MAC,
				"error", err)
		}
	}
}
