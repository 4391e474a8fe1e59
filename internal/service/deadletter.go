package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/apperr"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/util"
)

const (
	// DefaultDaysOld is the age threshold used when listing old dead letters.
	DefaultDaysOld = 7
	// MaxDaysOld bounds the age threshold accepted by ListOlderThan.
	MaxDaysOld = 36500
)

// RetryReport summarises one Retry pass.
type RetryReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type retryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// DeadLetterService 负责写入死信以及把未处理的死信重新交给 FanoutEngine
type DeadLetterService struct {
	store     repository.DeadLetterStore
	processor EventProcessor
	counter   retryCounter
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time
}

func NewDeadLetterService(store repository.DeadLetterStore, processor EventProcessor, logger *zap.Logger) *DeadLetterService {
	return &DeadLetterService{
		store:     store,
		processor: processor,
		logger:    logger,
		now:       time.Now,
	}
}

// WithRetryCounter 启用基于 Redis 的重试计数
func (s *DeadLetterService) WithRetryCounter(c retryCounter) *DeadLetterService {
	s.counter = c
	return s
}

// WithRateLimit 限制每秒重放的死信数量，perSecond <= 0 表示不限速
func (s *DeadLetterService) WithRateLimit(perSecond float64) *DeadLetterService {
	if perSecond <= 0 {
		s.limiter = nil
		return s
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	return s
}

// WithClock overrides the time source used for age cutoffs.
func (s *DeadLetterService) WithClock(now func() time.Time) *DeadLetterService {
	s.now = now
	return s
}

// Record stores entry. A storage failure is returned as a DeadLetterWrite error.
func (s *DeadLetterService) Record(ctx context.Context, entry *model.DeadLetterEntry) error {
	if err := s.store.SaveDeadLetterEntry(ctx, entry); err != nil {
		return apperr.DeadLetterWrite("failed to write dead letter entry", err)
	}
	metrics.IncrementDeadLetter(entry.ErrorType)
	s.logger.Warn("Message parked in dead letter store",
		zap.Int64("dead_letter_id", entry.ID),
		zap.String("topic", entry.Topic),
		zap.Int32("partition", entry.Partition),
		zap.Int64("offset", entry.Offset),
		zap.String("error_type", entry.ErrorType),
	)
	return nil
}

func (s *DeadLetterService) Count(ctx context.Context) (int64, error) {
	n, err := s.store.CountUnprocessed(ctx)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

// ListOlderThan returns unprocessed entries created more than days ago, oldest first.
func (s *DeadLetterService) ListOlderThan(ctx context.Context, days int) ([]model.DeadLetterEntry, error) {
	if days < 0 || days > MaxDaysOld {
		return nil, apperr.BadRequest(fmt.Sprintf("daysOld must be between 0 and %d", MaxDaysOld), nil)
	}
	cutoff := s.now().AddDate(0, 0, -days)
	entries, err := s.store.ListUnprocessedOlderThan(ctx, cutoff)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return entries, nil
}

// Retry resubmits every unprocessed entry, oldest first. A failing entry stays
// unprocessed and the pass continues with the next one. Cancelling ctx stops the
// pass between entries; the entry in flight is finished first.
func (s *DeadLetterService) Retry(ctx context.Context) (RetryReport, error) {
	var report RetryReport

	entries, err := s.store.ListUnprocessed(ctx)
	if err != nil {
		return report, apperr.Internal(err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}
		report.Attempted++
		entryCtx := context.WithoutCancel(ctx)
		attempt := s.countAttempt(entryCtx, entry.ID)

		if err := s.replay(entryCtx, entry); err != nil {
			report.Failed++
			metrics.IncrementDeadLetterRetry("failure")
			s.logger.Warn("Dead letter retry failed",
				zap.Int64("dead_letter_id", entry.ID),
				zap.Int64("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		if err := s.store.MarkProcessed(entryCtx, entry.ID); err != nil {
			report.Failed++
			metrics.IncrementDeadLetterRetry("failure")
			s.logger.Error("Failed to mark dead letter processed",
				zap.Int64("dead_letter_id", entry.ID),
				zap.Error(err),
			)
			continue
		}

		report.Succeeded++
		metrics.IncrementDeadLetterRetry("success")
		s.resetAttempts(entryCtx, entry.ID)
	}

	s.logger.Info("Dead letter retry finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *DeadLetterService) replay(ctx context.Context, entry model.DeadLetterEntry) error {
	payload, err := mqcontracts.DecodeNotificationEvent(entry.RawPayload())
	if err != nil {
		return apperr.InvalidEvent("payload is not a notification event", err)
	}
	return s.processor.Process(ctx, payload.ToEvent())
}

// countAttempt 计数失败不影响重试本身
func (s *DeadLetterService) countAttempt(ctx context.Context, id int64) int64 {
	if s.counter == nil {
		return 0
	}
	n, err := s.counter.IncrementAndGet(ctx, util.FormatRetryKey("dlq", id))
	if err != nil {
		s.logger.Warn("Failed to increment retry counter", zap.Int64("dead_letter_id", id), zap.Error(err))
		return 0
	}
	return n
}

func (s *DeadLetterService) resetAttempts(ctx context.Context, id int64) {
	if s.counter == nil {
		return
	}
	if err := s.counter.Reset(ctx, util.FormatRetryKey("dlq", id)); err != nil {
		s.logger.Warn("Failed to reset retry counter", zap.Int64("dead_letter_id", id), zap.Error(err))
	}
}
