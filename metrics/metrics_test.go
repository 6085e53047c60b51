package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier/message"
)

func TestCountersPerChannel(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()
	m := &message.Message{}

	// Two cycles on sms: one exhausted, then delivery via whatsapp.
	c.OnMessageStarted(ctx, m, message.ChannelSMS)
	c.OnMessageRetrying(ctx, m, message.ChannelSMS, 1, time.Second)
	c.OnChannelExhausted(ctx, m, message.ChannelSMS, errors.New("provider down"))
	c.OnMessageStarted(ctx, m, message.ChannelWhatsApp)
	c.OnMessageDelivered(ctx, m, message.ChannelWhatsApp, 5*time.Millisecond)

	snap := c.Snapshot()
	sms := snap.Channels[message.ChannelSMS]
	if sms.Sent != 1 || sms.Failed != 1 || sms.Delivered != 0 {
		t.Errorf("sms = %+v, want sent=1 failed=1 delivered=0", sms)
	}
	wa := snap.Channels[message.ChannelWhatsApp]
	if wa.Sent != 1 || wa.Delivered != 1 || wa.Failed != 0 {
		t.Errorf("whatsapp = %+v, want sent=1 delivered=1 failed=0", wa)
	}
	if snap.TotalSent != 2 || snap.TotalDelivered != 1 {
		t.Errorf("totals sent=%d delivered=%d, want 2 and 1", snap.TotalSent, snap.TotalDelivered)
	}
	if snap.TotalRetries != 1 {
		t.Errorf("retries = %d, want 1", snap.TotalRetries)
	}
}

func TestSuccessRate(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()
	m := &message.Message{}

	if rate := c.Snapshot().SuccessRate; rate != 0 {
		t.Fatalf("empty collector rate = %v, want 0", rate)
	}

	for range 4 {
		c.OnMessageStarted(ctx, m, message.ChannelEmail)
	}
	c.OnMessageDelivered(ctx, m, message.ChannelEmail, time.Millisecond)

	if rate := c.Snapshot().SuccessRate; rate != 0.25 {
		t.Errorf("rate = %v, want 0.25", rate)
	}
}

func TestTerminalCounters(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()
	m := &message.Message{}

	c.OnMessageFailed(ctx, m, errors.New("all channels exhausted"))
	c.OnMessageExpired(ctx, m)
	c.OnMessageExpired(ctx, m)

	snap := c.Snapshot()
	if snap.TotalFailed != 1 {
		t.Errorf("TotalFailed = %d, want 1", snap.TotalFailed)
	}
	if snap.TotalExpired != 2 {
		t.Errorf("TotalExpired = %d, want 2", snap.TotalExpired)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()
	m := &message.Message{}

	c.OnMessageStarted(ctx, m, message.ChannelSMS)
	snap := c.Snapshot()
	snap.Channels[message.ChannelSMS] = ChannelSnapshot{Sent: 99}

	if got := c.Snapshot().Channels[message.ChannelSMS].Sent; got != 1 {
		t.Errorf("collector mutated through snapshot, sent = %d", got)
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()
	m := &message.Message{}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.OnMessageStarted(ctx, m, message.ChannelSMS)
				c.OnMessageDelivered(ctx, m, message.ChannelSMS, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.TotalSent != 800 || snap.TotalDelivered != 800 {
		t.Errorf("totals = %d/%d, want 800/800", snap.TotalSent, snap.TotalDelivered)
	}
}
