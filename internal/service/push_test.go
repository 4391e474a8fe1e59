package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/apperr"
	"notifyhub/internal/model"
	"notifyhub/pkg/circuitbreaker"
)

type publishCall struct {
	key  string
	body []byte
}

type fakeAMQP struct {
	calls []publishCall
	err   error
}

func (f *fakeAMQP) PublishRaw(_ context.Context, routingKey string, body []byte) error {
	f.calls = append(f.calls, publishCall{key: routingKey, body: body})
	return f.err
}

type fakeRedis struct {
	channels []string
	err      error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, _ interface{}) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func sampleRecord() (*model.NotificationRecord, model.DeliveryUnit) {
	sentAt := fixedNow
	rec := &model.NotificationRecord{
		ID:        3,
		EventType: model.EventKeyDelivered,
		Title:     "Keys",
		Message:   "Your keys were delivered",
		Metadata:  map[string]string{"propertyId": "9"},
	}
	u := model.DeliveryUnit{ID: 11, NotificationID: 3, UserID: 7, Channel: model.ChannelPush, Status: model.StatusUnread, SentAt: &sentAt}
	return rec, u
}

func TestPushChannelSendsDTOToUserRoutingKey(t *testing.T) {
	amqp := &fakeAMQP{}
	ch := NewPushChannel(NewAMQPTransport(amqp), circuitbreaker.DefaultConfig(), zap.NewNop())
	rec, u := sampleRecord()

	require.NoError(t, ch.Send(context.Background(), u, rec))
	require.Len(t, amqp.calls, 1)
	assert.Equal(t, "notifications.user.7", amqp.calls[0].key)

	var dto model.NotificationDTO
	require.NoError(t, json.Unmarshal(amqp.calls[0].body, &dto))
	assert.Equal(t, int64(11), dto.ID)
	assert.Equal(t, int64(7), dto.UserID)
	assert.Equal(t, model.EventKeyDelivered, dto.EventType)
	assert.Equal(t, "9", dto.Metadata["propertyId"])
	require.NotNil(t, dto.SentAt)
}

func TestPushChannelBroadcast(t *testing.T) {
	amqp := &fakeAMQP{}
	ch := NewPushChannel(NewAMQPTransport(amqp), circuitbreaker.DefaultConfig(), zap.NewNop())

	require.NoError(t, ch.Broadcast(context.Background(), model.NotificationDTO{Title: "Maintenance"}))
	require.Len(t, amqp.calls, 1)
	assert.Equal(t, "notifications.broadcast", amqp.calls[0].key)
}

func TestPushChannelFailureIsDeliveryError(t *testing.T) {
	ch := NewPushChannel(NewAMQPTransport(&fakeAMQP{err: errors.New("channel closed")}), circuitbreaker.DefaultConfig(), zap.NewNop())
	rec, u := sampleRecord()

	err := ch.Send(context.Background(), u, rec)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDelivery))
}

func TestPushChannelBreakerOpens(t *testing.T) {
	amqp := &fakeAMQP{err: errors.New("broker unreachable")}
	cfg := circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1}
	ch := NewPushChannel(NewAMQPTransport(amqp), cfg, zap.NewNop())
	rec, u := sampleRecord()

	for i := 0; i < 2; i++ {
		require.Error(t, ch.Send(context.Background(), u, rec))
	}
	err := ch.Send(context.Background(), u, rec)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDelivery))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Len(t, amqp.calls, 2)
}

func TestPushChannelBreakerIsSharedAcrossRecipients(t *testing.T) {
	amqp := &fakeAMQP{err: errors.New("broker unreachable")}
	cfg := circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1}
	ch := NewPushChannel(NewAMQPTransport(amqp), cfg, zap.NewNop())
	rec, u := sampleRecord()

	require.Error(t, ch.Send(context.Background(), u, rec))

	other := u
	other.UserID = u.UserID + 1
	err := ch.Send(context.Background(), other, rec)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Len(t, amqp.calls, 1)
}

func TestRedisTransport(t *testing.T) {
	rdb := &fakeRedis{}
	ch := NewPushChannel(NewRedisTransport(rdb), circuitbreaker.DefaultConfig(), zap.NewNop())
	rec, u := sampleRecord()

	require.NoError(t, ch.Send(context.Background(), u, rec))
	assert.Equal(t, []string{"notifications:user:7"}, rdb.channels)

	rdb.err = errors.New("READONLY")
	assert.True(t, apperr.Is(ch.Send(context.Background(), u, rec), apperr.KindDelivery))
}
