package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/route"
	"github.com/xraph/courier/store/memory"
)

func newPoolFixture(t *testing.T, sender message.Sender, workers int) (*Pool, *memory.Store, *queue.Queue) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	limiter := ratelimit.New(nil)
	selector := route.New(limiter, message.Channels(), testCosts)
	exec := NewExecutor(store, sender, ext.NewRegistry(logger), selector, limiter,
		backoff.NewConstant(time.Millisecond), 1, logger)
	q := queue.New()
	return NewPool(q, exec, logger, WithPoolConcurrency(workers)), store, q
}

func TestPoolDeliversQueuedMessages(t *testing.T) {
	var mu sync.Mutex
	delivered := make(map[string]bool)
	sender := message.SenderFunc(func(_ context.Context, phone, _ string, _ message.Channel) error {
		mu.Lock()
		delivered[phone] = true
		mu.Unlock()
		return nil
	})

	pool, store, _ := newPoolFixture(t, sender, 4)
	ctx := context.Background()

	msgs := make([]*message.Message, 0, 20)
	for i := range 20 {
		m := testMessage(message.ChannelSMS, message.PriorityMedium)
		m.Phone = "+1555000" + string(rune('0'+i%10)) + string(rune('0'+i/10))
		if err := store.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
		msgs = append(msgs, m)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, m := range msgs {
		pool.Enqueue(m)
	}

	deadline := time.After(5 * time.Second)
	for {
		done := true
		for _, m := range msgs {
			got, err := store.GetMessage(ctx, m.ID)
			if err != nil {
				t.Fatalf("GetMessage: %v", err)
			}
			if got.Status != message.StatusDelivered {
				done = false
				break
			}
		}
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("messages not delivered in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPoolStartIdempotent(t *testing.T) {
	sender := message.SenderFunc(func(context.Context, string, string, message.Channel) error { return nil })
	pool, _, _ := newPoolFixture(t, sender, 2)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestPoolStopWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	sender := message.SenderFunc(func(_ context.Context, _, _ string, _ message.Channel) error {
		close(started)
		<-release
		return nil
	})

	pool, store, _ := newPoolFixture(t, sender, 1)
	ctx := context.Background()

	m := testMessage(message.ChannelSMS, message.PriorityMedium)
	if err := store.SaveMessage(ctx, m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pool.Enqueue(m)
	<-started

	stopped := make(chan struct{})
	go func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pool.Stop(stopCtx)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while delivery in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after delivery finished")
	}

	got, _ := store.GetMessage(ctx, m.ID)
	if got.Status != message.StatusDelivered {
		t.Errorf("status = %v, want delivered", got.Status)
	}
}

func TestPoolDeadlineCancelsActive(t *testing.T) {
	block := make(chan struct{})
	sender := message.SenderFunc(func(ctx context.Context, _, _ string, _ message.Channel) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-block:
			return nil
		}
	})

	pool, store, _ := newPoolFixture(t, sender, 1)
	defer close(block)
	ctx := context.Background()

	m := testMessage(message.ChannelSMS, message.PriorityMedium)
	if err := store.SaveMessage(ctx, m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pool.Enqueue(m)
	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		pool.Stop(stopCtx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not force-cancel the active delivery")
	}

	// The interrupted message is parked back in pending for recovery.
	got, _ := store.GetMessage(ctx, m.ID)
	if got.Status != message.StatusPending {
		t.Errorf("status = %v, want pending", got.Status)
	}
}
