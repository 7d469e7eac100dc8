// Package kafka connects the service to the marketplace backend.
//
// Consumed topics (requests from the marketplace):
//
//	escrow-funding   model.FundEscrowRequest, keyed by project_id
//	payment-release  model.ReleasePaymentRequest, keyed by project_id
//
// Produced topics (terminal outcomes back to the marketplace):
//
//	registration-confirmed  model.RegistrationConfirmation, keyed by project_id
//	payment-confirmed       model.PaymentConfirmation, keyed by request_id
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/abdul-abdi/blockcreative-sub000/internal/logger"
	"github.com/abdul-abdi/blockcreative-sub000/internal/metrics"
	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

const (
	// TopicRegistrationConfirmed carries terminal registration
	// outcomes. Partition key: project_id.
	TopicRegistrationConfirmed = "registration-confirmed"

	// TopicPaymentConfirmed carries terminal escrow and payment
	// outcomes. Partition key: request_id.
	TopicPaymentConfirmed = "payment-confirmed"
)

var ErrProducerClosed = errors.New("producer is closed")

// Producer publishes confirmation events to the marketplace backend.
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig configures the sync producer.
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer creates a sync producer that waits for full ISR acks.
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{producer: producer}, nil
}

// Close shuts the producer down. Idempotent.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

func (p *Producer) send(topic string, key string, value []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrProducerClosed
	}
	p.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	metrics.RecordKafkaMessage(topic, true)

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// PublishRegistrationConfirmed publishes a terminal registration
// outcome, keyed by project id.
func (p *Producer) PublishRegistrationConfirmed(_ context.Context, event *model.RegistrationConfirmation) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.send(TopicRegistrationConfirmed, event.ProjectID, data)
}

// PublishPaymentConfirmed publishes a terminal escrow or payment
// outcome, keyed by the originating request id.
func (p *Producer) PublishPaymentConfirmed(_ context.Context, event *model.PaymentConfirmation) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := event.RequestID
	if key == "" {
		key = event.TxHash
	}
	return p.send(TopicPaymentConfirmed, key, data)
}
