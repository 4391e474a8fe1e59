package mqhandler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/model"
	"notifyhub/internal/service"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/otel"
	"notifyhub/pkg/trace"
	"notifyhub/pkg/util"
)

type deadLetterRecorder interface {
	Record(ctx context.Context, entry *model.DeadLetterEntry) error
}

// IntakeHandler 处理一条上游消息：解码、扇出；失败时写入死信后确认
type IntakeHandler struct {
	processor service.EventProcessor
	dlq       deadLetterRecorder
	source    string
	logger    *zap.Logger
}

func NewIntakeHandler(processor service.EventProcessor, dlq deadLetterRecorder, source string, logger *zap.Logger) *IntakeHandler {
	return &IntakeHandler{
		processor: processor,
		dlq:       dlq,
		source:    source,
		logger:    logger,
	}
}

// Handle returns nil when msg may be acknowledged. It returns an error only
// when a failed message could not be parked in the dead letter store.
func (h *IntakeHandler) Handle(ctx context.Context, msg mq.Message) (err error) {
	start := time.Now()
	ctx, _ = trace.Ensure(ctx, msg.Headers[trace.HeaderName])
	ctx, span := otel.ConsumeSpan(ctx, h.source, msg.Topic, msg.Partition, msg.Offset, msg.Headers)
	defer func() { otel.EndSpan(span, err) }()

	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	outcome, stack, procErr := h.process(ctx, msg)
	defer func() {
		metrics.RecordIntakeLatency(h.source, msg.Topic, time.Since(start))
		metrics.IncrementIntakeMessage(msg.Topic, outcome)
	}()

	switch outcome {
	case "processed":
		return nil
	case "skipped":
		log.Debug("Skipping empty event")
		return nil
	}

	retryable, errorType := util.IsRetryableError(procErr)
	if outcome == "panic" {
		retryable, errorType = false, "panic"
	}
	log.Error("Event processing failed, parking in dead letter store",
		zap.String("error_type", errorType),
		zap.Bool("retryable", retryable),
		zap.Error(procErr),
	)

	entry := &model.DeadLetterEntry{
		Topic:        msg.Topic,
		Partition:    msg.Partition,
		Offset:       msg.Offset,
		Payload:      util.SafeText(string(msg.Value)),
		PayloadRaw:   msg.Value,
		ErrorType:    errorType,
		Retryable:    retryable,
		ErrorMessage: procErr.Error(),
		StackTrace:   diagnosticTrace(procErr, stack),
	}
	if err := h.dlq.Record(ctx, entry); err != nil {
		outcome = "withheld"
		log.Error("Failed to write dead letter entry, message will be redelivered", zap.Error(err))
		return fmt.Errorf("park offset %d: %w", msg.Offset, err)
	}
	outcome = "dead_lettered"
	return nil
}

// process 返回结果标签；panic 被恢复并转为错误
func (h *IntakeHandler) process(ctx context.Context, msg mq.Message) (outcome, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			err = fmt.Errorf("panic while processing event: %v", r)
			stack = zap.Stack("").String
		}
	}()

	payload, err := mqcontracts.DecodeNotificationEvent(msg.Value)
	if err != nil {
		return "failed", "", fmt.Errorf("decode event: %w", err)
	}
	if payload == nil || len(payload.UserIDs) == 0 {
		return "skipped", "", nil
	}

	if err := h.processor.Process(ctx, payload.ToEvent()); err != nil {
		return "failed", "", err
	}
	return "processed", "", nil
}

// diagnosticTrace 记录完整错误链，panic 时附带调用栈
func diagnosticTrace(err error, stack string) string {
	var b strings.Builder
	depth := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%s%T: %s\n", strings.Repeat("  ", depth), e, e.Error())
		depth++
	}
	if stack != "" {
		b.WriteString("\n")
		b.WriteString(stack)
	}
	return b.String()
}
