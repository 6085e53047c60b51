package ext

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier/message"
)

// ─────────────────────────────────────────────
// Test fixtures
// ─────────────────────────────────────────────

// recorder implements every hook and records which ones fired.
type recorder struct {
	mu     sync.Mutex
	name   string
	events []string
	err    error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) record(event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) OnMessageEnqueued(context.Context, *message.Message) error {
	return r.record("enqueued")
}

func (r *recorder) OnMessageStarted(context.Context, *message.Message, message.Channel) error {
	return r.record("started")
}

func (r *recorder) OnMessageRetrying(context.Context, *message.Message, message.Channel, int, time.Duration) error {
	return r.record("retrying")
}

func (r *recorder) OnChannelExhausted(context.Context, *message.Message, message.Channel, error) error {
	return r.record("exhausted")
}

func (r *recorder) OnMessageDelivered(context.Context, *message.Message, message.Channel, time.Duration) error {
	return r.record("delivered")
}

func (r *recorder) OnMessageFailed(context.Context, *message.Message, error) error {
	return r.record("failed")
}

func (r *recorder) OnMessageExpired(context.Context, *message.Message) error {
	return r.record("expired")
}

func (r *recorder) OnShutdown(context.Context) error {
	return r.record("shutdown")
}

// deliveredOnly opts in to a single hook.
type deliveredOnly struct {
	count int
}

func (d *deliveredOnly) Name() string { return "delivered-only" }

func (d *deliveredOnly) OnMessageDelivered(context.Context, *message.Message, message.Channel, time.Duration) error {
	d.count++
	return nil
}

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ─────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────

func TestRegisterAndEmitAll(t *testing.T) {
	r := testRegistry()
	rec := &recorder{name: "recorder"}
	r.Register(rec)

	ctx := context.Background()
	m := &message.Message{Phone: "+15551234567"}

	r.EmitMessageEnqueued(ctx, m)
	r.EmitMessageStarted(ctx, m, message.ChannelSMS)
	r.EmitMessageRetrying(ctx, m, message.ChannelSMS, 1, time.Second)
	r.EmitChannelExhausted(ctx, m, message.ChannelSMS, errors.New("provider down"))
	r.EmitMessageDelivered(ctx, m, message.ChannelWhatsApp, 10*time.Millisecond)
	r.EmitMessageFailed(ctx, m, errors.New("all channels exhausted"))
	r.EmitMessageExpired(ctx, m)
	r.EmitShutdown(ctx)

	want := []string{"enqueued", "started", "retrying", "exhausted", "delivered", "failed", "expired", "shutdown"}
	got := rec.Events()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPartialHookRegistration(t *testing.T) {
	r := testRegistry()
	d := &deliveredOnly{}
	r.Register(d)

	ctx := context.Background()
	m := &message.Message{}

	// Events the extension doesn't implement are no-ops for it.
	r.EmitMessageEnqueued(ctx, m)
	r.EmitMessageFailed(ctx, m, errors.New("x"))
	if d.count != 0 {
		t.Fatalf("count = %d before delivery event", d.count)
	}

	r.EmitMessageDelivered(ctx, m, message.ChannelSMS, time.Millisecond)
	if d.count != 1 {
		t.Fatalf("count = %d, want 1", d.count)
	}
}

func TestHookErrorsNotPropagated(t *testing.T) {
	r := testRegistry()
	failing := &recorder{name: "failing", err: errors.New("hook broke")}
	after := &recorder{name: "after"}
	r.Register(failing)
	r.Register(after)

	// A failing hook must not prevent later extensions from running.
	r.EmitMessageDelivered(context.Background(), &message.Message{}, message.ChannelSMS, 0)

	if got := after.Events(); len(got) != 1 || got[0] != "delivered" {
		t.Fatalf("later extension events = %v, want [delivered]", got)
	}
}

func TestRegistrationOrder(t *testing.T) {
	r := testRegistry()
	first := &recorder{name: "first"}
	second := &recorder{name: "second"}
	r.Register(first)
	r.Register(second)

	exts := r.Extensions()
	if len(exts) != 2 {
		t.Fatalf("len(Extensions) = %d, want 2", len(exts))
	}
	if exts[0].Name() != "first" || exts[1].Name() != "second" {
		t.Errorf("extension order = [%s, %s]", exts[0].Name(), exts[1].Name())
	}
}
