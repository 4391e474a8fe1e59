package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notifyhub/internal/apperr"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/otel"
)

// EventProcessor expands and delivers one inbound event.
type EventProcessor interface {
	Process(ctx context.Context, event *model.Event) error
}

// PushSender delivers one unit over the real-time push channel.
type PushSender interface {
	Send(ctx context.Context, unit model.DeliveryUnit, rec *model.NotificationRecord) error
}

const defaultMaxConcurrency = 16

// FanoutEngine 把一个事件展开为 users × channels 个投递单元，持久化后尝试推送
type FanoutEngine struct {
	store          repository.NotificationStore
	push           PushSender
	logger         *zap.Logger
	maxConcurrency int
	now            func() time.Time
}

func NewFanoutEngine(store repository.NotificationStore, push PushSender, logger *zap.Logger) *FanoutEngine {
	return &FanoutEngine{
		store:          store,
		push:           push,
		logger:         logger,
		maxConcurrency: defaultMaxConcurrency,
		now:            time.Now,
	}
}

// WithMaxConcurrency 设置单个事件内并发推送的上限
func (e *FanoutEngine) WithMaxConcurrency(n int) *FanoutEngine {
	if n > 0 {
		e.maxConcurrency = n
	}
	return e
}

// WithClock overrides the time source used for sent-at stamps.
func (e *FanoutEngine) WithClock(now func() time.Time) *FanoutEngine {
	e.now = now
	return e
}

// Process validates event, stores one record with all of its units, attempts
// PUSH delivery for each unit and stores the outcomes in one batch.
//
// The returned error is an *apperr.Error of kind InvalidEvent or Persistence.
// Delivery failures never surface here; they are recorded as FAILED units.
func (e *FanoutEngine) Process(ctx context.Context, event *model.Event) (err error) {
	ctx, span := otel.StartSpan(ctx, "fanout.process")
	defer func() { otel.EndSpan(span, err) }()

	if event == nil {
		return apperr.InvalidEvent("event is required", nil)
	}
	ev := *event
	ev.Normalize()
	if err := ev.Validate(); err != nil {
		return apperr.InvalidEvent("event failed validation", err)
	}

	rec := buildRecord(&ev)
	if err := e.store.Save(ctx, rec); err != nil {
		return apperr.Persistence("failed to save notification", err)
	}

	attempted := e.deliver(ctx, rec)
	if len(attempted) > 0 {
		if err := e.store.SaveAll(ctx, attempted); err != nil {
			return apperr.Persistence("failed to update delivery status", err)
		}
	}

	for _, u := range rec.Units {
		metrics.IncrementFanoutUnit(string(u.Channel), string(u.Status))
	}
	e.logger.Info("Event fanned out",
		zap.Int64("notification_id", rec.ID),
		zap.String("event_type", string(rec.EventType)),
		zap.Int("units", len(rec.Units)),
		zap.Int("push_attempts", len(attempted)),
	)
	return nil
}

func buildRecord(ev *model.Event) *model.NotificationRecord {
	rec := &model.NotificationRecord{
		EventType: ev.EventType,
		Title:     ev.Title,
		Message:   ev.Message,
		Metadata:  ev.Metadata,
		Units:     make([]model.DeliveryUnit, 0, len(ev.UserIDs)*len(ev.Channels)),
	}
	for _, userID := range ev.UserIDs {
		for _, ch := range ev.Channels {
			rec.Units = append(rec.Units, model.DeliveryUnit{
				UserID:  userID,
				Channel: ch,
				Status:  model.StatusUnread,
			})
		}
	}
	return rec
}

// deliver 并发推送所有 PUSH 单元，每个 goroutine 只写自己的下标；返回被尝试过的单元
func (e *FanoutEngine) deliver(ctx context.Context, rec *model.NotificationRecord) []model.DeliveryUnit {
	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)

	var pushIdx []int
	for i := range rec.Units {
		if rec.Units[i].Channel != model.ChannelPush {
			continue
		}
		pushIdx = append(pushIdx, i)
		i := i
		g.Go(func() error {
			e.attempt(ctx, rec, i)
			return nil
		})
	}
	_ = g.Wait()

	attempted := make([]model.DeliveryUnit, 0, len(pushIdx))
	for _, i := range pushIdx {
		attempted = append(attempted, rec.Units[i])
	}
	return attempted
}

func (e *FanoutEngine) attempt(ctx context.Context, rec *model.NotificationRecord, i int) {
	sentAt := e.now().UTC()
	candidate := rec.Units[i]
	candidate.SentAt = &sentAt

	if err := e.push.Send(ctx, candidate, rec); err != nil {
		rec.Units[i].Status = model.StatusFailed
		rec.Units[i].SentAt = nil
		e.logger.Warn("Push delivery failed",
			zap.Int64("unit_id", candidate.ID),
			zap.Int64("user_id", candidate.UserID),
			zap.Error(err),
		)
		return
	}
	rec.Units[i].SentAt = &sentAt
}
