package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingRetrier struct {
	calls atomic.Int32
}

func (r *countingRetrier) Retry(context.Context) (RetryReport, error) {
	r.calls.Add(1)
	return RetryReport{}, nil
}

func TestDLQSchedulerRunsUntilCancelled(t *testing.T) {
	r := &countingRetrier{}
	s := NewDLQScheduler(r, zap.NewNop()).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestDLQSchedulerDisabled(t *testing.T) {
	r := &countingRetrier{}
	NewDLQScheduler(r, zap.NewNop()).WithInterval(0).Start(context.Background())
	assert.Zero(t, r.calls.Load())
}
