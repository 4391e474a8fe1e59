package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/pkg/mq"
)

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32                   { return map[string][]int32{"notifications": {0}} }
func (s *fakeSession) MemberID() string                             { return "member-1" }
func (s *fakeSession) GenerationID() int32                          { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)      {}
func (s *fakeSession) Commit()                                      {}
func (s *fakeSession) ResetOffset(string, int32, int64, string)     {}
func (s *fakeSession) Context() context.Context                     { return s.ctx }
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, m.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "notifications" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newClaim(values ...string) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(values))
	for i, v := range values {
		ch <- &sarama.ConsumerMessage{
			Topic:     "notifications",
			Partition: 0,
			Offset:    int64(i),
			Value:     []byte(v),
			Headers:   []*sarama.RecordHeader{{Key: []byte("traceparent"), Value: []byte("tp")}},
		}
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

func TestConsumeClaimMarksInOrder(t *testing.T) {
	sess := &fakeSession{ctx: context.Background()}
	var got []mq.Message
	h := newClaimHandler(func(_ context.Context, m mq.Message) error {
		got = append(got, m)
		return nil
	}, func() {}, zap.NewNop())

	require.NoError(t, h.ConsumeClaim(sess, newClaim("a", "b", "c")))

	assert.Equal(t, []int64{0, 1, 2}, sess.marked)
	require.Len(t, got, 3)
	assert.Equal(t, "b", string(got[1].Value))
	assert.Equal(t, "tp", got[0].Headers["traceparent"])
	assert.False(t, h.withheld())
}

func TestConsumeClaimWithholdEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := &fakeSession{ctx: ctx}

	calls := 0
	h := newClaimHandler(func(_ context.Context, m mq.Message) error {
		calls++
		if string(m.Value) == "bad" {
			return errors.New("dead letter write failed")
		}
		return nil
	}, cancel, zap.NewNop())

	require.NoError(t, h.ConsumeClaim(sess, newClaim("ok", "bad", "after")))

	assert.Equal(t, []int64{0}, sess.marked, "withheld message and its successors stay unmarked")
	assert.Equal(t, 2, calls)
	assert.True(t, h.withheld())
	assert.Error(t, ctx.Err(), "session context is cancelled")
}

func TestConsumeClaimHandlerContextSurvivesSessionEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{ctx: ctx}

	var handlerErr error
	h := newClaimHandler(func(hctx context.Context, _ mq.Message) error {
		cancel()
		handlerErr = hctx.Err()
		return nil
	}, cancel, zap.NewNop())

	require.NoError(t, h.ConsumeClaim(sess, newClaim("in-flight", "never")))

	assert.NoError(t, handlerErr)
	assert.Equal(t, []int64{0}, sess.marked)
}

func TestProducerPublish(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var decoded map[string]any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return err
		}
		if decoded["eventType"] != "KEY_DELIVERED" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewProducerWith(sp, "notifications")
	_, _, err := p.Publish(context.Background(), "user-1", map[string]any{"eventType": "KEY_DELIVERED"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducerPublishFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerWith(sp, "notifications")
	_, _, err := p.Publish(context.Background(), "", map[string]any{"x": 1})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
