package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

func TestProducer_PublishOrderEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, "", log.WithField("component", "kafka-producer-test"))

	event := domain.OrderEvent{
		Type:       domain.OrderEventSaved,
		OrderID:    "order-123",
		Version:    4,
		Status:     domain.OrderStatusPending,
		Patch:      []byte(`[{"op":"replace","path":"/notes","value":"x"}]`),
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			t.Errorf("expected topic %s, got %s", TopicOrderEvents, msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "order-123" {
			t.Errorf("expected key order-123, got %s", key)
		}

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		if headers[HeaderEventType] != string(domain.OrderEventSaved) || headers[HeaderOrderVersion] != "4" {
			t.Errorf("unexpected headers: %v", headers)
		}
		return nil
	})
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var decoded domain.OrderEvent
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		if decoded.OrderID != "order-123" || decoded.Version != 4 {
			t.Errorf("unexpected payload: %+v", decoded)
		}
		return nil
	})

	if err := producer.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := producer.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishOrderEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, "orders.custom", nil)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishOrderEvent(context.Background(), domain.OrderEvent{
		Type:    domain.OrderEventConflict,
		OrderID: "order-1",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if producer.Topic() != "orders.custom" {
		t.Fatalf("expected custom topic, got %s", producer.Topic())
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishOrderEvent_CanceledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := producer.PublishOrderEvent(ctx, domain.OrderEvent{OrderID: "order-1"}); err == nil {
		t.Fatal("expected context error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

// stuckProducer имитирует недоступный брокер: SendMessage висит до release.
type stuckProducer struct {
	sarama.SyncProducer
	release chan struct{}
}

func (p *stuckProducer) SendMessage(*sarama.ProducerMessage) (int32, int64, error) {
	<-p.release
	return 0, 0, sarama.ErrOutOfBrokers
}

func TestProducer_PublishOrderEvent_SendTimeout(t *testing.T) {
	stuck := &stuckProducer{release: make(chan struct{})}
	defer close(stuck.release)

	producer := newProducer(stuck, "", nil)
	producer.sendTimeout = 20 * time.Millisecond

	started := time.Now()
	err := producer.PublishOrderEvent(context.Background(), domain.OrderEvent{OrderID: "order-1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("publish blocked for %s", elapsed)
	}
}

func TestNewProducerConfig_ShortTimeouts(t *testing.T) {
	config := newProducerConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("invalid config: %v", err)
	}
	if config.Net.DialTimeout > defaultSendTimeout || config.Producer.Timeout > defaultSendTimeout {
		t.Fatalf("timeouts too long: dial=%s produce=%s", config.Net.DialTimeout, config.Producer.Timeout)
	}
	if !config.Producer.Idempotent || config.Producer.RequiredAcks != sarama.WaitForAll {
		t.Fatal("producer must stay idempotent with acks=all")
	}
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewProducer(nil, "", nil); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestProducer_PingWithoutBrokers(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, "", nil)

	if err := producer.Ping(context.Background()); err == nil {
		t.Fatal("expected error without brokers")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
