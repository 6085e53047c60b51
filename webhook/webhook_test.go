package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captured struct {
	mu       sync.Mutex
	payloads []Payload
}

func (c *captured) add(p Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
}

func (c *captured) all() []Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Payload, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func captureServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode body: %v", err)
		}
		got.add(p)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestNotifyOnTerminalStatus(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n := New(discardLogger(), WithClock(func() time.Time { return fixed }))

	msgID := id.NewMessageID()
	m := &message.Message{ID: msgID, CallbackURL: srv.URL}

	n.OnMessageDelivered(context.Background(), m, message.ChannelSMS, time.Millisecond)

	payloads := got.all()
	if len(payloads) != 1 {
		t.Fatalf("got %d callbacks, want 1", len(payloads))
	}
	p := payloads[0]
	if p.RequestID != msgID.String() {
		t.Errorf("request_id = %q, want %q", p.RequestID, msgID.String())
	}
	if p.Status != "delivered" {
		t.Errorf("status = %q, want delivered", p.Status)
	}
	if p.Timestamp != "2025-06-01T12:00:00Z" {
		t.Errorf("timestamp = %q", p.Timestamp)
	}
}

func TestNotifyFailedAndExpired(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	n := New(discardLogger())

	m := &message.Message{ID: id.NewMessageID(), CallbackURL: srv.URL}
	n.OnMessageFailed(context.Background(), m, errors.New("all channels exhausted"))
	n.OnMessageExpired(context.Background(), m)

	payloads := got.all()
	if len(payloads) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(payloads))
	}
	if payloads[0].Status != "failed" || payloads[1].Status != "expired" {
		t.Errorf("statuses = %q, %q", payloads[0].Status, payloads[1].Status)
	}
}

func TestNoCallbackURLSkipped(t *testing.T) {
	n := New(discardLogger())
	m := &message.Message{ID: id.NewMessageID()}

	// Must not attempt any request (no URL to post to).
	if err := n.OnMessageDelivered(context.Background(), m, message.ChannelSMS, 0); err != nil {
		t.Fatalf("OnMessageDelivered: %v", err)
	}
}

func TestServerErrorNotPropagated(t *testing.T) {
	srv, got := captureServer(t, http.StatusInternalServerError)
	n := New(discardLogger())

	m := &message.Message{ID: id.NewMessageID(), CallbackURL: srv.URL}
	if err := n.OnMessageFailed(context.Background(), m, errors.New("x")); err != nil {
		t.Fatalf("hook must swallow delivery errors, got %v", err)
	}
	if len(got.all()) != 1 {
		t.Fatal("request was not attempted")
	}
}

func TestUnreachableURLNotPropagated(t *testing.T) {
	n := New(discardLogger(), WithClient(&http.Client{Timeout: 100 * time.Millisecond}))

	m := &message.Message{ID: id.NewMessageID(), CallbackURL: "http://127.0.0.1:1/hook"}
	if err := n.OnMessageExpired(context.Background(), m); err != nil {
		t.Fatalf("hook must swallow connection errors, got %v", err)
	}
}

func TestRateLimitAppliesBacking(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	// 100/s with burst 1: the second call must wait ~10ms.
	n := New(discardLogger(), WithRateLimit(100, 1))

	m := &message.Message{ID: id.NewMessageID(), CallbackURL: srv.URL}
	start := time.Now()
	n.OnMessageDelivered(context.Background(), m, message.ChannelSMS, 0)
	n.OnMessageDelivered(context.Background(), m, message.ChannelSMS, 0)

	if len(got.all()) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(got.all()))
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("second callback not throttled, elapsed = %v", elapsed)
	}
}
