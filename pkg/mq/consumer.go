package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"notifyhub/pkg/config"
)

const consumerTag = "notifyhub-intake"

type Consumer struct {
	channel    *amqp091.Channel
	queue      string
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
}

// NewConsumer creates a consumer bound to cfg.Queue with cfg.RoutingKey.
func NewConsumer(cfg config.MQConfig, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	closeAll := func() {
		ch.Close()
		conn.Close()
	}

	if err := DeclareExchange(ch, cfg.Exchange); err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.Queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = ExchangeName
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, exchange, false, nil); err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	// 单队列单 worker：prefetch 1 保证严格顺序处理
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", cfg.RoutingKey),
		zap.String("queue", q.Name),
		zap.String("exchange", exchange),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q.Name,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// Stop 停止接收新消息，正在处理的消息不受影响
func (c *Consumer) Stop() {
	if c.channel != nil {
		_ = c.channel.Cancel(consumerTag, false)
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming consumes until ctx is done or the channel closes. It blocks.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue,
		consumerTag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue),
	)

	c.consume(ctx, deliveries)
	return nil
}

// consume 保证每条消息都会被 ack 或 nack
func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp091.Delivery) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Info("Delivery channel closed", zap.String("queue", c.queue))
				return
			}
			// 正在处理的消息不随关闭信号中断
			c.handle(context.WithoutCancel(ctx), d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("queue", c.queue),
				zap.Uint64("delivery_tag", d.DeliveryTag),
				zap.Any("panic", r),
			)
			// Panic → 拒绝消息并重新入队
			if err := d.Nack(false, true); err != nil {
				c.logger.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	msg := Message{
		Topic:     c.queue,
		Partition: 0,
		Offset:    int64(d.DeliveryTag),
		Key:       []byte(d.RoutingKey),
		Value:     d.Body,
		Headers:   headersToMap(d.Headers),
		Timestamp: d.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Warn("Handler withheld ack, requeueing",
			zap.String("queue", c.queue),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Error(err),
		)
		if err := d.Nack(false, true); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("queue", c.queue),
			zap.Error(err),
		)
	}
}
