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
	// TopicEscrowFunding carries escrow funding requests from the
	// marketplace backend. Partition key: project_id.
	TopicEscrowFunding = "escrow-funding"

	// TopicPaymentRelease carries payment release requests from the
	// marketplace backend. Partition key: project_id.
	TopicPaymentRelease = "payment-release"
)

// PaymentHandler executes the on-chain side of a marketplace request.
// *service.ReconciliationService satisfies it.
type PaymentHandler interface {
	HandleFundEscrow(ctx context.Context, req *model.FundEscrowRequest) error
	HandleReleasePayment(ctx context.Context, req *model.ReleasePaymentRequest) error
}

// Consumer subscribes to marketplace payment request topics.
type Consumer struct {
	client  sarama.ConsumerGroup
	handler PaymentHandler
	topics  []string
	groupID string

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// ConsumerConfig configures the consumer group.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Handler PaymentHandler
}

// NewConsumer creates the consumer group client.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		client:  client,
		handler: cfg.Handler,
		topics:  []string{TopicEscrowFunding, TopicPaymentRelease},
		groupID: cfg.GroupID,
	}, nil
}

// Start begins consuming in a background goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	handler := &groupHandler{handler: c.handler}

	go func() {
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			if err := c.client.Consume(ctx, c.topics, handler); err != nil {
				logger.Error("kafka consume error", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}()

	logger.Info("kafka consumer started",
		zap.Strings("topics", c.topics),
		zap.String("group_id", c.groupID))

	return nil
}

// Stop halts consumption and closes the group client. Idempotent.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	close(c.stopCh)
	c.running = false

	return c.client.Close()
}

type groupHandler struct {
	handler PaymentHandler
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx := context.Background()
		metrics.RecordKafkaMessage(msg.Topic, false)

		if err := h.dispatch(ctx, msg.Topic, msg.Value); err != nil {
			logger.Error("failed to handle kafka message",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			// marked anyway; the pending-row sweep is the retry path
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *groupHandler) dispatch(ctx context.Context, topic string, data []byte) error {
	switch topic {
	case TopicEscrowFunding:
		var req model.FundEscrowRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		logger.Debug("received escrow funding request",
			zap.String("request_id", req.RequestID),
			zap.String("project_id", req.ProjectID))
		return h.handler.HandleFundEscrow(ctx, &req)

	case TopicPaymentRelease:
		var req model.ReleasePaymentRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		logger.Debug("received payment release request",
			zap.String("request_id", req.RequestID),
			zap.String("project_id", req.ProjectID))
		return h.handler.HandleReleasePayment(ctx, &req)

	default:
		logger.Warn("unknown topic", zap.String("topic", topic))
		return nil
	}
}
