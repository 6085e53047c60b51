// Package queue provides the in-memory scheduling structure feeding the
// worker pool. Messages are ordered by (priority rank DESC, ready time
// ASC, enqueue sequence ASC): higher priority first, then earliest
// ready, then FIFO within ties.
//
// A message whose ready time is in the future is parked on a separate
// time-ordered heap so it never blocks ready messages, and consumers
// wait until the next-ready instant instead of polling on a fixed
// interval. A message leaves the queue only by being claimed by a
// consumer or by shutdown.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/xraph/courier/message"
)

// Queue is safe for concurrent use by one or more producers and
// consumers. The zero value is not usable; call New.
type Queue struct {
	mu      sync.Mutex
	ready   readyHeap
	waiting timeHeap
	seq     uint64
	closed  bool

	// wake carries at most one pending signal; Pop re-signals when more
	// ready work remains so every parked consumer eventually runs.
	wake chan struct{}
	done chan struct{}
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Push adds a message to the queue. Messages scheduled for the future
// are parked until their ready time. Push on a closed queue is a no-op.
func (q *Queue) Push(m *message.Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	q.seq++
	it := &item{m: m, readyAt: m.ReadyAt(), seq: q.seq}
	if it.readyAt.After(time.Now()) {
		heap.Push(&q.waiting, it)
	} else {
		heap.Push(&q.ready, it)
	}
	q.mu.Unlock()

	q.signal()
}

// Pop blocks until a message is ready or the stop channel fires. It
// returns false when stopped or when the queue has been closed; queued
// messages are not handed out after close (shutdown drains in-flight
// work only).
func (q *Queue) Pop(stop <-chan struct{}) (*message.Message, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}

		now := time.Now()
		q.promote(now)

		if q.ready.Len() > 0 {
			it := heap.Pop(&q.ready).(*item)
			more := q.ready.Len() > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return it.m, true
		}

		// Nothing ready: park until the next scheduled message is due,
		// a push arrives, or we are stopped.
		var timerC <-chan time.Time
		var timer *time.Timer
		if q.waiting.Len() > 0 {
			timer = time.NewTimer(q.waiting[0].readyAt.Sub(now))
			timerC = timer.C
		}
		q.mu.Unlock()

		select {
		case <-stop:
			stopTimer(timer)
			return nil, false
		case <-q.done:
			stopTimer(timer)
			return nil, false
		case <-q.wake:
		case <-timerC:
		}
		stopTimer(timer)
	}
}

// Len returns the number of queued messages, ready and parked.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + q.waiting.Len()
}

// NextReady returns the ready time of the earliest parked message and
// whether any message is parked. Ready messages report a zero time.
func (q *Queue) NextReady() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready.Len() > 0 {
		return time.Time{}, true
	}
	if q.waiting.Len() > 0 {
		return q.waiting[0].readyAt, true
	}
	return time.Time{}, false
}

// Close wakes all blocked consumers and rejects further pushes.
// Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
}

// promote moves messages whose ready time has arrived onto the ready
// heap. Caller must hold q.mu.
func (q *Queue) promote(now time.Time) {
	for q.waiting.Len() > 0 && !q.waiting[0].readyAt.After(now) {
		heap.Push(&q.ready, heap.Pop(&q.waiting).(*item))
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// item is a queued message with its scheduling key.
type item struct {
	m       *message.Message
	readyAt time.Time
	seq     uint64
}

// readyHeap orders ready messages: priority DESC, ready time ASC, seq ASC.
type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].m.Priority != h[j].m.Priority {
		return h[i].m.Priority > h[j].m.Priority
	}
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// timeHeap orders parked messages by ready time ASC, seq ASC.
type timeHeap []*item

func (h timeHeap) Len() int { return len(h) }

func (h timeHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].seq < h[j].seq
}

func (h timeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timeHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
