package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"notifyhub/internal/apperr"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
)

// NotificationQuery 读接口：标记已读、未读计数、按用户列表
type NotificationQuery struct {
	store  repository.NotificationStore
	logger *zap.Logger
}

func NewNotificationQuery(store repository.NotificationStore, logger *zap.Logger) *NotificationQuery {
	return &NotificationQuery{store: store, logger: logger}
}

// MarkAsRead sets unit id to READ. Marking an already read unit is a no-op.
func (q *NotificationQuery) MarkAsRead(ctx context.Context, id int64) error {
	unit, err := q.store.FindUnitByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("notification not found", err)
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if unit.Status == model.StatusRead {
		return nil
	}

	unit.Status = model.StatusRead
	if err := q.store.SaveAll(ctx, []model.DeliveryUnit{*unit}); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("notification not found", err)
		}
		return apperr.Internal(err)
	}
	q.logger.Debug("Notification marked as read", zap.Int64("unit_id", id))
	return nil
}

func (q *NotificationQuery) ListForUser(ctx context.Context, userID int64) ([]model.NotificationDTO, error) {
	list, err := q.store.FindByUserOrderBySentAtDesc(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

func (q *NotificationQuery) CountUnread(ctx context.Context, userID int64) (int64, error) {
	n, err := q.store.CountByUserAndStatus(ctx, userID, model.StatusUnread)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

// Units returns the delivery units of one notification record.
func (q *NotificationQuery) Units(ctx context.Context, notificationID int64) ([]model.DeliveryUnit, error) {
	units, err := q.store.FindUnitsByNotification(ctx, notificationID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if len(units) == 0 {
		return nil, apperr.NotFound("notification not found", repository.ErrNotFound)
	}
	return units, nil
}

// Delete 删除通知记录及其全部投递单元（运维清理用）
func (q *NotificationQuery) Delete(ctx context.Context, notificationID int64) error {
	if err := q.store.DeleteNotification(ctx, notificationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("notification not found", err)
		}
		return apperr.Internal(err)
	}
	q.logger.Info("Notification deleted", zap.Int64("notification_id", notificationID))
	return nil
}
