package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notifyhub/internal/apperr"
	"notifyhub/internal/model"
	"notifyhub/pkg/circuitbreaker"
	"notifyhub/pkg/metrics"
)

// PushTransport is a fire-and-forget real-time transport addressed by destination name.
type PushTransport interface {
	Name() string
	UserDestination(userID int64) string
	BroadcastDestination() string
	Publish(ctx context.Context, destination string, payload []byte) error
}

// PushChannel 把通知 DTO 编码后通过 transport 推送，transport 由熔断器保护。
// The breaker guards the transport, not a recipient: once it opens, every
// send fails fast until it half-opens, whichever user the unit targets.
type PushChannel struct {
	transport PushTransport
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

func NewPushChannel(transport PushTransport, breakerCfg circuitbreaker.Config, logger *zap.Logger) *PushChannel {
	breaker := circuitbreaker.NewCircuitBreaker("push-"+transport.Name(), breakerCfg).
		OnStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("Push circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})
	return &PushChannel{
		transport: transport,
		breaker:   breaker,
		logger:    logger,
	}
}

// Send pushes unit to its user. Any failure, including an open breaker,
// is returned as a Delivery error.
func (p *PushChannel) Send(ctx context.Context, unit model.DeliveryUnit, rec *model.NotificationRecord) error {
	dto := model.NewNotificationDTO(unit, rec)
	return p.publish(ctx, p.transport.UserDestination(unit.UserID), dto)
}

// Broadcast pushes dto to every connected client.
func (p *PushChannel) Broadcast(ctx context.Context, dto model.NotificationDTO) error {
	return p.publish(ctx, p.transport.BroadcastDestination(), dto)
}

func (p *PushChannel) publish(ctx context.Context, destination string, dto model.NotificationDTO) error {
	body, err := json.Marshal(dto)
	if err != nil {
		return apperr.Delivery("failed to encode push payload", err)
	}

	start := time.Now()
	err = p.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		return p.transport.Publish(ctx, destination, body)
	})

	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.RecordPushSendLatency(p.transport.Name(), status, time.Since(start))

	if err != nil {
		return apperr.Delivery(fmt.Sprintf("push to %s failed", destination), err)
	}
	p.logger.Debug("Push sent",
		zap.String("transport", p.transport.Name()),
		zap.String("destination", destination),
	)
	return nil
}
