package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"notifyhub/pkg/config"
	"notifyhub/pkg/otel"
)

// Producer 同步生产者，发送 JSON 消息
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	sc, err := NewProducerConfig(cfg)
	if err != nil {
		return nil, err
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerWith(p, cfg.Topic), nil
}

// NewProducerWith wraps an existing sync producer.
func NewProducerWith(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: p, topic: topic}
}

// Publish sends payload as JSON keyed by key and returns where it landed.
func (p *Producer) Publish(ctx context.Context, key string, payload any) (int32, int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, err
	}

	ctx, span := otel.PublishSpan(ctx, "kafka", p.topic)
	carrier := otel.HeaderCarrier{}
	otel.Inject(ctx, carrier)

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(body),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for k, v := range carrier {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	otel.EndSpan(span, err)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to send to %s: %w", p.topic, err)
	}
	return partition, offset, nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
