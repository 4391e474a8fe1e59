package mqhandler

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/apperr"
	"notifyhub/internal/model"
	"notifyhub/pkg/mq"
)

type fakeProcessor struct {
	calls int
	err   error
	panic bool
}

func (p *fakeProcessor) Process(context.Context, *model.Event) error {
	p.calls++
	if p.panic {
		panic("nil map write")
	}
	return p.err
}

type fakeDLQ struct {
	entries []*model.DeadLetterEntry
	err     error
}

func (d *fakeDLQ) Record(_ context.Context, e *model.DeadLetterEntry) error {
	if d.err != nil {
		return apperr.DeadLetterWrite("failed to write dead letter entry", d.err)
	}
	d.entries = append(d.entries, e)
	return nil
}

func message(value string) mq.Message {
	return mq.Message{
		Topic:     "notification-events",
		Partition: 2,
		Offset:    41,
		Value:     []byte(value),
		Headers:   map[string]string{"X-Trace-ID": "trace-1"},
	}
}

const goodEvent = `{"eventType":"CONTRACT_CREATED","userIds":[5],"title":"Contract","message":"signed","channels":["PUSH","EMAIL"]}`

func TestHandleSuccess(t *testing.T) {
	p := &fakeProcessor{}
	dlq := &fakeDLQ{}
	h := NewIntakeHandler(p, dlq, "kafka", zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), message(goodEvent)))
	assert.Equal(t, 1, p.calls)
	assert.Empty(t, dlq.entries)
}

func TestHandleSkipsEmptyEvents(t *testing.T) {
	for _, value := range []string{"", "   ", "null", `{"eventType":"CONTRACT_CREATED","userIds":[],"channels":["PUSH"]}`} {
		p := &fakeProcessor{}
		dlq := &fakeDLQ{}
		h := NewIntakeHandler(p, dlq, "kafka", zap.NewNop())

		require.NoError(t, h.Handle(context.Background(), message(value)), value)
		assert.Zero(t, p.calls, value)
		assert.Empty(t, dlq.entries, value)
	}
}

func TestHandleMalformedPayloadParksOnce(t *testing.T) {
	p := &fakeProcessor{}
	dlq := &fakeDLQ{}
	h := NewIntakeHandler(p, dlq, "kafka", zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), message(`{"eventType":`)))
	assert.Zero(t, p.calls)
	require.Len(t, dlq.entries, 1)

	e := dlq.entries[0]
	assert.Equal(t, "notification-events", e.Topic)
	assert.Equal(t, int32(2), e.Partition)
	assert.Equal(t, int64(41), e.Offset)
	assert.Equal(t, `{"eventType":`, e.Payload)
	assert.Equal(t, "json_decode_error", e.ErrorType)
	assert.False(t, e.Retryable)
	assert.False(t, e.Processed)
	assert.NotEmpty(t, e.ErrorMessage)
	assert.Contains(t, e.StackTrace, "decode event")
}

func TestHandleProcessingFailureParks(t *testing.T) {
	p := &fakeProcessor{err: apperr.InvalidEvent("event failed validation", errors.New("unknown channel"))}
	dlq := &fakeDLQ{}
	h := NewIntakeHandler(p, dlq, "kafka", zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), message(goodEvent)))
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "invalid_event", dlq.entries[0].ErrorType)
	assert.Contains(t, dlq.entries[0].StackTrace, "unknown channel")
}

func TestHandlePanicParks(t *testing.T) {
	p := &fakeProcessor{panic: true}
	dlq := &fakeDLQ{}
	h := NewIntakeHandler(p, dlq, "amqp", zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), message(goodEvent)))
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "panic", dlq.entries[0].ErrorType)
	assert.Contains(t, dlq.entries[0].ErrorMessage, "nil map write")
	assert.Contains(t, dlq.entries[0].StackTrace, "mqhandler")
}

func TestHandleWithholdsAckWhenDeadLetterWriteFails(t *testing.T) {
	p := &fakeProcessor{err: apperr.Persistence("failed to save notification", errors.New("db down"))}
	dlq := &fakeDLQ{err: errors.New("db down")}
	h := NewIntakeHandler(p, dlq, "kafka", zap.NewNop())

	err := h.Handle(context.Background(), message(goodEvent))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDeadLetterWrite))
}

func TestHandlePersistenceFailureIsRetryable(t *testing.T) {
	p := &fakeProcessor{err: apperr.Persistence("failed to save notification", errors.New("db down"))}
	dlq := &fakeDLQ{}
	h := NewIntakeHandler(p, dlq, "kafka", zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), message(goodEvent)))
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "persistence_error", dlq.entries[0].ErrorType)
	assert.True(t, dlq.entries[0].Retryable)
}

func TestHandleBinaryPayloadKeepsRawBytes(t *testing.T) {
	p := &fakeProcessor{}
	dlq := &fakeDLQ{}
	h := NewIntakeHandler(p, dlq, "kafka", zap.NewNop())

	raw := "\x00\xff\xfe{garbage"
	require.NoError(t, h.Handle(context.Background(), message(raw)))
	require.Len(t, dlq.entries, 1)

	e := dlq.entries[0]
	assert.Equal(t, "json_decode_error", e.ErrorType)
	assert.Equal(t, []byte(raw), e.PayloadRaw)
	assert.Equal(t, []byte(raw), e.RawPayload())
	assert.True(t, utf8.ValidString(e.Payload))
	assert.NotContains(t, e.Payload, "\x00")
	assert.True(t, utf8.ValidString(e.ErrorMessage))
}
