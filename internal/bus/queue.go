package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"alphaledger/internal/model"
)

var (
	ErrQueueFull   = errors.New("fill queue full")
	ErrQueueClosed = errors.New("fill queue closed")
)

// Queue is a bounded, non-blocking buffer between the venue stream and the
// ledger writer. Publishing never blocks the stream reader; a full queue is
// reported to the caller instead.
type Queue struct {
	ch     chan model.Fill
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan model.Fill, capacity)}
}

// TryPublish enqueues a fill without blocking.
func (q *Queue) TryPublish(fill model.Fill) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- fill:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports how many fills are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new fills. Buffered fills are still
// delivered to the consumer.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes fills until the context is done or the queue is closed and
// drained.
func (q *Queue) Run(ctx context.Context, handler func(fill model.Fill)) {
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-q.ch:
			if !ok {
				return
			}
			handler(fill)
		}
	}
}
