package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/message"
)

func newMessage() *message.Message {
	return &message.Message{
		Entity:           courier.NewEntity(),
		ID:               id.NewMessageID(),
		Phone:            "+15551234567",
		Kind:             message.KindNotification,
		Content:          "hello",
		Priority:         message.PriorityMedium,
		PreferredChannel: message.ChannelSMS,
		MaxRetries:       3,
		Status:           message.StatusPending,
	}
}

func TestSaveAndGetMessage(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := newMessage()

	if err := s.SaveMessage(ctx, m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Phone != m.Phone || got.Status != message.StatusPending {
		t.Errorf("got %+v", got)
	}

	// Stored copy must not alias the caller's struct.
	m.Content = "mutated"
	got, _ = s.GetMessage(ctx, m.ID)
	if got.Content != "hello" {
		t.Error("store aliases caller memory")
	}
}

func TestSaveMessageDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := newMessage()

	if err := s.SaveMessage(ctx, m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := s.SaveMessage(ctx, m); !errors.Is(err, courier.ErrMessageExists) {
		t.Fatalf("duplicate save err = %v, want ErrMessageExists", err)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	s := New()
	_, err := s.GetMessage(context.Background(), id.NewMessageID())
	if !errors.Is(err, courier.ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := newMessage()
	if err := s.SaveMessage(ctx, m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	deliveredAt := time.Now().UTC()
	err := s.UpdateStatus(ctx, message.StatusUpdate{
		ID:          m.ID,
		Status:      message.StatusDelivered,
		Channel:     message.ChannelWhatsApp,
		Attempts:    2,
		DeliveredAt: &deliveredAt,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != message.StatusDelivered {
		t.Errorf("status = %v", got.Status)
	}
	if got.ChannelUsed != message.ChannelWhatsApp {
		t.Errorf("channel = %v", got.ChannelUsed)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d", got.Attempts)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(deliveredAt) {
		t.Errorf("deliveredAt = %v", got.DeliveredAt)
	}
}

func TestUpdateStatusUnknownMessage(t *testing.T) {
	s := New()
	err := s.UpdateStatus(context.Background(), message.StatusUpdate{
		ID:     id.NewMessageID(),
		Status: message.StatusFailed,
	})
	if !errors.Is(err, courier.ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestGetReport(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := newMessage()
	if err := s.SaveMessage(ctx, m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	r, err := s.GetReport(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if r.MessageID != m.ID || r.Status != message.StatusPending {
		t.Errorf("report = %+v", r)
	}

	if _, err := s.GetReport(ctx, id.NewMessageID()); !errors.Is(err, courier.ErrMessageNotFound) {
		t.Fatalf("unknown report err = %v", err)
	}
}

func TestPendingMessages(t *testing.T) {
	s := New()
	ctx := context.Background()

	pending := newMessage()
	retrying := newMessage()
	retrying.Status = message.StatusRetrying
	done := newMessage()
	done.Status = message.StatusDelivered

	for _, m := range []*message.Message{pending, retrying, done} {
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	got, err := s.PendingMessages(ctx)
	if err != nil {
		t.Fatalf("PendingMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, m := range got {
		if m.Status.Terminal() {
			t.Errorf("terminal message %v returned as pending", m.ID)
		}
	}
}

func TestPurgeOlderThan(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := newMessage()
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	fresh := newMessage()
	for _, m := range []*message.Message{old, fresh} {
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
	oldCode := &message.Code{Phone: "+15550000001", Value: "111111", CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	freshCode := &message.Code{Phone: "+15550000002", Value: "222222", CreatedAt: time.Now().UTC()}
	for _, c := range []*message.Code{oldCode, freshCode} {
		if err := s.SaveCode(ctx, c); err != nil {
			t.Fatalf("SaveCode: %v", err)
		}
	}

	counts, err := s.PurgeOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if counts.Messages != 1 || counts.Codes != 1 {
		t.Errorf("counts = %+v, want 1/1", counts)
	}

	if _, err := s.GetMessage(ctx, old.ID); !errors.Is(err, courier.ErrMessageNotFound) {
		t.Error("old message survived purge")
	}
	if _, err := s.GetMessage(ctx, fresh.ID); err != nil {
		t.Errorf("fresh message purged: %v", err)
	}
}

func TestCodeLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetCode(ctx, "+15551234567"); !errors.Is(err, courier.ErrCodeNotFound) {
		t.Fatalf("missing code err = %v, want ErrCodeNotFound", err)
	}

	first := &message.Code{Phone: "+15551234567", Value: "111111", CreatedAt: time.Now().UTC()}
	if err := s.SaveCode(ctx, first); err != nil {
		t.Fatalf("SaveCode: %v", err)
	}
	second := &message.Code{Phone: "+15551234567", Value: "222222", CreatedAt: time.Now().UTC()}
	if err := s.SaveCode(ctx, second); err != nil {
		t.Fatalf("SaveCode: %v", err)
	}

	got, err := s.GetCode(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("GetCode: %v", err)
	}
	if got.Value != "222222" {
		t.Errorf("value = %q, want overwrite to 222222", got.Value)
	}

	if err := s.DeleteCode(ctx, "+15551234567"); err != nil {
		t.Fatalf("DeleteCode: %v", err)
	}
	if err := s.DeleteCode(ctx, "+15551234567"); err != nil {
		t.Fatalf("DeleteCode absent: %v", err)
	}
	if _, err := s.GetCode(ctx, "+15551234567"); !errors.Is(err, courier.ErrCodeNotFound) {
		t.Fatalf("deleted code err = %v", err)
	}
}
