package mq

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingAck struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *recordingAck) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *recordingAck) Nack(tag uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestConsumeAcksAndNacks(t *testing.T) {
	ack := &recordingAck{}
	deliveries := make(chan amqp091.Delivery, 3)
	deliveries <- amqp091.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("ok")}
	deliveries <- amqp091.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("withhold")}
	deliveries <- amqp091.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("panic"),
		Headers: amqp091.Table{"traceparent": "tp", "retries": int32(2)}}
	close(deliveries)

	var seen []Message
	c := &Consumer{queue: "notifications.q", logger: zap.NewNop()}
	c.SetHandler(func(ctx context.Context, msg Message) error {
		seen = append(seen, msg)
		switch string(msg.Value) {
		case "withhold":
			return errors.New("dead letter store down")
		case "panic":
			panic("boom")
		}
		return nil
	})

	c.consume(context.Background(), deliveries)

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2, 3}, ack.nacked)
	assert.Len(t, seen, 3)
	assert.Equal(t, "notifications.q", seen[0].Topic)
	assert.Equal(t, int64(2), seen[1].Offset)
	assert.Equal(t, map[string]string{"traceparent": "tp"}, seen[2].Headers)
}

func TestConsumeStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deliveries := make(chan amqp091.Delivery, 1)
	deliveries <- amqp091.Delivery{Acknowledger: &recordingAck{}, DeliveryTag: 1}

	called := false
	c := &Consumer{queue: "q", logger: zap.NewNop()}
	c.SetHandler(func(context.Context, Message) error { called = true; return nil })
	c.consume(ctx, deliveries)

	assert.False(t, called)
}
