package sfu

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
)

var (
	ErrSinkClosed = errors.New("sink closed")
	ErrSinkFailed = errors.New("sink failed")
)

// QueueSink hands packets to a slow sink from its own goroutine so the relay
// loop never waits on it. Packets arriving while the queue is full are dropped.
type QueueSink struct {
	next PacketSink
	ch   chan *rtp.Packet
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Bool
}

func NewQueueSink(next PacketSink, size int) *QueueSink {
	q := &QueueSink{
		next: next,
		ch:   make(chan *rtp.Packet, size),
		done: make(chan struct{}),
	}
	go q.drain()
	return q
}

// WriteRTP enqueues p. It fails only once the queue is closed or the inner
// sink has returned an error.
func (q *QueueSink) WriteRTP(p *rtp.Packet) error {
	if q.failed.Load() {
		return ErrSinkFailed
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrSinkClosed
	}
	select {
	case q.ch <- p:
	default:
		q.dropped.Add(1)
	}
	return nil
}

func (q *QueueSink) drain() {
	defer close(q.done)
	for p := range q.ch {
		if q.failed.Load() {
			continue
		}
		if err := q.next.WriteRTP(p); err != nil {
			q.failed.Store(true)
		}
	}
}

// Close stops accepting packets. Queued packets are still delivered.
func (q *QueueSink) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Done is closed once every queued packet was handed to the inner sink.
func (q *QueueSink) Done() <-chan struct{} { return q.done }

func (q *QueueSink) Dropped() int64 { return q.dropped.Load() }
