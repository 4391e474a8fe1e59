package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyhub/pkg/otel"
)

// PushExchange is the topic exchange the AMQP transport publishes to.
const PushExchange = "notifications.push"

type amqpPublisher interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
}

// AMQPTransport 通过 RabbitMQ topic exchange 推送，routing key 为 notifications.user.<id>
type AMQPTransport struct {
	publisher amqpPublisher
}

func NewAMQPTransport(publisher amqpPublisher) *AMQPTransport {
	return &AMQPTransport{publisher: publisher}
}

func (t *AMQPTransport) Name() string { return "amqp" }

func (t *AMQPTransport) UserDestination(userID int64) string {
	return fmt.Sprintf("notifications.user.%d", userID)
}

func (t *AMQPTransport) BroadcastDestination() string { return "notifications.broadcast" }

func (t *AMQPTransport) Publish(ctx context.Context, destination string, payload []byte) error {
	return t.publisher.PublishRaw(ctx, destination, payload)
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisTransport 通过 Redis pub/sub 推送，频道为 notifications:user:<id>
type RedisTransport struct {
	client redisPublisher
}

func NewRedisTransport(client redisPublisher) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Name() string { return "redis" }

func (t *RedisTransport) UserDestination(userID int64) string {
	return fmt.Sprintf("notifications:user:%d", userID)
}

func (t *RedisTransport) BroadcastDestination() string { return "notifications:broadcast" }

// Publish does not wait for subscribers; zero receivers is not an error.
func (t *RedisTransport) Publish(ctx context.Context, destination string, payload []byte) (err error) {
	ctx, span := otel.PublishSpan(ctx, "redis", destination)
	defer func() { otel.EndSpan(span, err) }()

	return t.client.Publish(ctx, destination, payload).Err()
}

// LogTransport only logs the payload. Used when no broker is configured.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) UserDestination(userID int64) string {
	return fmt.Sprintf("user/%d", userID)
}

func (t *LogTransport) BroadcastDestination() string { return "broadcast" }

func (t *LogTransport) Publish(_ context.Context, destination string, payload []byte) error {
	t.logger.Info("Push notification",
		zap.String("destination", destination),
		zap.ByteString("payload", payload),
	)
	return nil
}
