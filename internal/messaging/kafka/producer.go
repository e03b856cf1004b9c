package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordereditor/internal/domain"
)

const (
	defaultPingTimeout = 2 * time.Second
	// defaultSendTimeout ограничивает ожидание публикации внутри Save/Finalize.
	defaultSendTimeout = 5 * time.Second
)

var errNoBrokers = errors.New("kafka brokers are not configured")

// Producer публикует события заказа в Kafka.
type Producer struct {
	producer    sarama.SyncProducer
	brokers     []string
	topic       string
	sendTimeout time.Duration
	logger   *log.Entry
}

// NewProducer создаёт синхронный producer с подтверждением от всех реплик.
func NewProducer(brokers []string, topic string, logger *log.Entry) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}

	producer, err := sarama.NewSyncProducer(brokers, newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := newProducer(producer, topic, logger)
	p.brokers = append([]string(nil), brokers...)
	return p, nil
}

// newProducerConfig собирает конфигурацию с короткими таймаутами: недоступный
// брокер не должен надолго задерживать сохранение заказа.
func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 2
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Producer.Timeout = defaultSendTimeout
	config.Net.MaxOpenRequests = 1 // обязательно для идемпотентного producer
	config.Net.DialTimeout = 2 * time.Second
	config.Net.ReadTimeout = defaultSendTimeout
	config.Net.WriteTimeout = defaultSendTimeout
	config.Metadata.Retry.Max = 1
	return config
}

func newProducer(producer sarama.SyncProducer, topic string, logger *log.Entry) *Producer {
	if topic == "" {
		topic = TopicOrderEvents
	}
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, topic: topic, logger: logger, sendTimeout: defaultSendTimeout}
}

// PublishOrderEvent отправляет событие; ключ сообщения: ID заказа,
// поэтому события одного заказа попадают в одну партицию по порядку.
func (p *Producer) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(event.OrderID),
		Value:     sarama.ByteEncoder(payload),
		Headers:   eventHeaders(event),
		Timestamp: event.OccurredAt,
	}

	logger := p.logger.WithFields(log.Fields{
		"topic":      p.topic,
		"order_id":   event.OrderID,
		"event_type": event.Type,
	})

	partition, offset, err := p.send(ctx, msg)
	if err != nil {
		logger.WithError(err).Error("failed to send order event to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	logger.WithFields(log.Fields{
		"partition": partition,
		"offset":    offset,
	}).Debug("order event sent to kafka")

	return nil
}

type sendResult struct {
	partition int32
	offset    int64
	err       error
}

// send ждёт подтверждения не дольше sendTimeout и не дольше жизни ctx.
// SendMessage нельзя прервать, поэтому после таймаута он дорабатывает в фоне.
func (p *Producer) send(ctx context.Context, msg *sarama.ProducerMessage) (int32, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		partition, offset, err := p.producer.SendMessage(msg)
		done <- sendResult{partition: partition, offset: offset, err: err}
	}()

	select {
	case res := <-done:
		return res.partition, res.offset, res.err
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// Ping проверяет, что хотя бы один брокер принимает подключения.
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return errNoBrokers
	}

	config := sarama.NewConfig()
	config.Net.DialTimeout = defaultPingTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < defaultPingTimeout {
			config.Net.DialTimeout = left
		}
	}

	var lastErr error
	for _, addr := range p.brokers {
		if err := ctx.Err(); err != nil {
			return err
		}
		broker := sarama.NewBroker(addr)
		if err := broker.Open(config); err != nil {
			lastErr = err
			continue
		}
		connected, err := broker.Connected()
		_ = broker.Close()
		if connected {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("broker %s is not reachable", addr)
		}
		lastErr = err
	}
	return fmt.Errorf("kafka is unavailable: %w", lastErr)
}

// Topic возвращает топик публикации.
func (p *Producer) Topic() string {
	return p.topic
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

var _ domain.EventPublisher = (*Producer)(nil)
