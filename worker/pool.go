package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/queue"
)

// Pool manages a set of concurrent worker goroutines that drain the
// queue and deliver messages through the Executor.
type Pool struct {
	queue       *queue.Queue
	executor    *Executor
	concurrency int
	workerID    id.WorkerID
	logger      *slog.Logger

	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// NewPool creates a worker pool.
func NewPool(q *queue.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:       q,
		executor:    executor,
		concurrency: 10,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		stopCh:      make(chan struct{}),
		active:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.deliverLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight deliveries
// to finish. If the context has a deadline, active deliveries are
// cancelled when time runs out; interrupted messages are parked back in
// pending for restart recovery.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active deliveries")
		p.cancelActive()
		p.wg.Wait()
	}

	return nil
}

// deliverLoop is run by each worker goroutine. Pop blocks until a
// message is ready or the pool is stopped.
func (p *Pool) deliverLoop() {
	defer p.wg.Done()

	for {
		m, ok := p.queue.Pop(p.stopCh)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.track(m.ID.String(), cancel)

		if err := p.executor.Deliver(ctx, m); err != nil {
			p.logger.Debug("delivery ended with error",
				slog.String("message_id", m.ID.String()),
				slog.String("error", err.Error()),
			)
		}

		p.untrack(m.ID.String())
		cancel()
	}
}

// Enqueue hands a message to the queue for delivery.
func (p *Pool) Enqueue(m *message.Message) {
	p.queue.Push(m)
}

func (p *Pool) track(msgID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[msgID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(msgID string) {
	p.activeMu.Lock()
	delete(p.active, msgID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for msgID, cancel := range p.active {
		p.logger.Warn("cancelling active delivery", slog.String("message_id", msgID))
		cancel()
	}
}
