package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type retrier interface {
	Retry(ctx context.Context) (RetryReport, error)
}

// DLQScheduler 定期触发死信重试
type DLQScheduler struct {
	dlq      retrier
	logger   *zap.Logger
	interval time.Duration
}

func NewDLQScheduler(dlq retrier, logger *zap.Logger) *DLQScheduler {
	return &DLQScheduler{
		dlq:      dlq,
		logger:   logger,
		interval: 5 * time.Minute,
	}
}

// WithInterval 设置重试间隔
func (s *DLQScheduler) WithInterval(interval time.Duration) *DLQScheduler {
	s.interval = interval
	return s
}

// Start blocks until ctx is done. A non-positive interval disables the scheduler.
func (s *DLQScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("DLQ scheduler disabled")
		return
	}
	s.logger.Info("Starting DLQ scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("DLQ scheduler stopped")
			return
		case <-ticker.C:
			report, err := s.dlq.Retry(ctx)
			if err != nil {
				s.logger.Error("Scheduled DLQ retry failed", zap.Error(err))
				continue
			}
			if report.Attempted > 0 {
				s.logger.Info("Scheduled DLQ retry",
					zap.Int("attempted", report.Attempted),
					zap.Int("succeeded", report.Succeeded),
				)
			}
		}
	}
}
