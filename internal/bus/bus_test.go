package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/conrisk/internal/domain"
)

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "org-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, tenantID, domain.TopicContractAnalyzed, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicContractAnalyzed, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := waitFor(t, got)
		if string(msg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
		}
		if msg.TenantID != tenantID || msg.Topic != domain.TopicContractAnalyzed {
			t.Errorf("unexpected envelope: %+v", msg)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "org-a", domain.TopicRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "org-b", domain.TopicRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "org-a", domain.TopicRiskAlert, []byte("alert"))
		time.Sleep(50 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("org-a should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("org-b should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("GlobalSubscriberReceivesEveryTenant", func(t *testing.T) {
		got := make(chan *domain.Message, 4)
		sub, err := bus.Subscribe(ctx, domain.GlobalTenant, domain.TopicContractUploaded, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		bus.Publish(ctx, "org-a", domain.TopicContractUploaded, []byte("a"))
		bus.Publish(ctx, "org-b", domain.TopicContractUploaded, []byte("b"))

		first, second := waitFor(t, got), waitFor(t, got)
		tenants := map[string]bool{first.TenantID: true, second.TenantID: true}
		if !tenants["org-a"] || !tenants["org-b"] {
			t.Errorf("expected messages from both tenants, got %v", tenants)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); !errors.Is(err, ErrNoTenant) {
			t.Errorf("expected ErrNoTenant, got %v", err)
		}

		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if !errors.Is(err, ErrNoTenant) {
			t.Errorf("expected ErrNoTenant, got %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicKeyDateReminder, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, tenantID, domain.TopicKeyDateReminder, []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()

		bus.Publish(ctx, tenantID, domain.TopicKeyDateReminder, []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}

		bus.mu.RLock()
		_, ok := bus.subscriptions[bus.makeKey(tenantID, domain.TopicKeyDateReminder)]
		bus.mu.RUnlock()
		if ok {
			t.Error("expected subscription to be removed from the bus")
		}
	})

	t.Run("UnsubscribeDeliversBuffered", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			time.Sleep(10 * time.Millisecond)
			if ctx.Err() == nil {
				count.Add(1)
			}
			return nil
		})

		for i := 0; i < 5; i++ {
			bus.Publish(ctx, tenantID, domain.TopicRiskAlert, []byte("alert"))
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe failed: %v", err)
		}
		if count.Load() != 5 {
			t.Errorf("expected all 5 buffered messages handled, got %d", count.Load())
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Errorf("second Unsubscribe failed: %v", err)
		}
	})

	t.Run("TraceIDInMetadata", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
		tctx := trace.ContextWithSpanContext(ctx, sc)

		got := make(chan *domain.Message, 1)
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicContractExpired, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		defer sub.Unsubscribe()

		bus.Publish(tctx, tenantID, domain.TopicContractExpired, []byte("{}"))

		msg := waitFor(t, got)
		if msg.Metadata[domain.MetaTraceID] != traceID.String() {
			t.Errorf("expected trace id %s, got %q", traceID, msg.Metadata[domain.MetaTraceID])
		}
	})

	t.Run("PublishJSONAndDecode", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicContractUploaded, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		defer sub.Unsubscribe()

		event := domain.ContractUploadedEvent{ContractID: "c-1", TenantID: tenantID, FilePath: "f.pdf", Filename: "合同.pdf"}
		if err := PublishJSON(ctx, bus, tenantID, domain.TopicContractUploaded, event); err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}

		var decoded domain.ContractUploadedEvent
		if err := Decode(waitFor(t, got), &decoded); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if decoded != event {
			t.Errorf("expected %+v, got %+v", event, decoded)
		}

		bad := &domain.Message{ID: "m", Topic: "t", Payload: []byte("not json")}
		if err := Decode(bad, &decoded); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()

	bus.Subscribe(ctx, "org-001", domain.TopicRiskAlert, func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, "org-001", domain.TopicRiskAlert, []byte("data")); err == nil {
		t.Error("expected error after close")
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestNATSSubject(t *testing.T) {
	b := &NATSBus{}

	if got := b.makeSubject("org-1", domain.TopicContractUploaded); got != "conrisk.org-1.contract.uploaded" {
		t.Errorf("unexpected subject: %s", got)
	}
	if got := b.makeSubject(domain.GlobalTenant, domain.TopicContractUploaded); got != "conrisk.*.contract.uploaded" {
		t.Errorf("unexpected global subject: %s", got)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
