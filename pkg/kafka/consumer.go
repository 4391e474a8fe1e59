package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"notifyhub/pkg/config"
	"notifyhub/pkg/mq"
)

// ConsumerGroup 基于 sarama 的消费组：每个分区一个顺序 worker
type ConsumerGroup struct {
	group        sarama.ConsumerGroup
	topics       []string
	handler      mq.MessageHandler
	logger       *zap.Logger
	retryBackoff time.Duration
}

func NewConsumerGroup(cfg config.KafkaConfig, logger *zap.Logger) (*ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	sc, err := NewConsumerConfig(cfg)
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	logger.Info("Kafka consumer group initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group_id", cfg.GroupID),
		zap.String("topic", cfg.Topic),
	)

	return &ConsumerGroup{
		group:        group,
		topics:       []string{cfg.Topic},
		logger:       logger,
		retryBackoff: backoff,
	}, nil
}

func (c *ConsumerGroup) SetHandler(h mq.MessageHandler) {
	c.handler = h
}

// Run joins the group and consumes until ctx is done. When a handler withholds
// an ack the session is ended so the group resumes from the last committed offset.
func (c *ConsumerGroup) Run(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("Kafka consumer group error", zap.Error(err))
		}
	}()

	for {
		sessCtx, cancel := context.WithCancel(ctx)
		h := newClaimHandler(c.handler, cancel, c.logger)
		err := c.group.Consume(sessCtx, c.topics, h)
		cancel()

		if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
			c.logger.Info("Kafka consumer stopped")
			return nil
		}
		if err != nil {
			c.logger.Error("Kafka consume session failed", zap.Error(err))
		}

		if err != nil || h.withheld() {
			c.logger.Warn("Rejoining consumer group after backoff",
				zap.Duration("backoff", c.retryBackoff),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryBackoff):
			}
		}
	}
}

func (c *ConsumerGroup) Close() error {
	return c.group.Close()
}

// claimHandler 实现 sarama.ConsumerGroupHandler
type claimHandler struct {
	handle mq.MessageHandler
	cancel context.CancelFunc
	logger *zap.Logger
	held   atomic.Bool
}

func newClaimHandler(handle mq.MessageHandler, cancel context.CancelFunc, logger *zap.Logger) *claimHandler {
	return &claimHandler{handle: handle, cancel: cancel, logger: logger}
}

func (h *claimHandler) withheld() bool {
	return h.held.Load()
}

func (h *claimHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka session started",
		zap.String("member_id", sess.MemberID()),
		zap.Int32("generation", sess.GenerationID()),
		zap.Any("claims", sess.Claims()),
	)
	return nil
}

func (h *claimHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka session ended", zap.String("member_id", sess.MemberID()))
	return nil
}

// ConsumeClaim 顺序处理一个分区的消息；成功才 MarkMessage
func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		if sess.Context().Err() != nil {
			return nil
		}
		select {
		case <-sess.Context().Done():
			return nil
		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			// 正在处理的消息不随会话结束而中断
			ctx := context.WithoutCancel(sess.Context())
			if err := h.handle(ctx, toMessage(m)); err != nil {
				h.logger.Warn("Ack withheld, message will be redelivered",
					zap.String("topic", m.Topic),
					zap.Int32("partition", m.Partition),
					zap.Int64("offset", m.Offset),
					zap.Error(err),
				)
				h.held.Store(true)
				h.cancel()
				return nil
			}
			sess.MarkMessage(m, "")
		}
	}
}

func toMessage(m *sarama.ConsumerMessage) mq.Message {
	var headers map[string]string
	if len(m.Headers) > 0 {
		headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			if h != nil {
				headers[string(h.Key)] = string(h.Value)
			}
		}
	}
	return mq.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Timestamp: m.Timestamp,
	}
}
