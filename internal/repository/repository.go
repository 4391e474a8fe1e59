package repository

import (
	"context"
	"errors"
	"time"

	"notifyhub/internal/model"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("record not found")

// NotificationStore persists notification records and their delivery units.
type NotificationStore interface {
	// Save writes rec and all of rec.Units atomically, assigning ids and CreatedAt.
	Save(ctx context.Context, rec *model.NotificationRecord) error
	// SaveAll writes status and sent-at of every unit atomically. READ is never downgraded.
	SaveAll(ctx context.Context, units []model.DeliveryUnit) error
	FindUnitByID(ctx context.Context, id int64) (*model.DeliveryUnit, error)
	FindUnitsByNotification(ctx context.Context, notificationID int64) ([]model.DeliveryUnit, error)
	// FindByUserOrderBySentAtDesc lists a user's units, most recent first; unsent units last.
	FindByUserOrderBySentAtDesc(ctx context.Context, userID int64) ([]model.NotificationDTO, error)
	CountByUserAndStatus(ctx context.Context, userID int64, status model.Status) (int64, error)
	// DeleteNotification removes a record together with its units.
	DeleteNotification(ctx context.Context, id int64) error
}

// DeadLetterStore persists failed raw events.
type DeadLetterStore interface {
	SaveDeadLetterEntry(ctx context.Context, e *model.DeadLetterEntry) error
	// ListUnprocessed returns unprocessed entries oldest first.
	ListUnprocessed(ctx context.Context) ([]model.DeadLetterEntry, error)
	// ListUnprocessedOlderThan returns unprocessed entries created before cutoff, oldest first.
	ListUnprocessedOlderThan(ctx context.Context, cutoff time.Time) ([]model.DeadLetterEntry, error)
	CountUnprocessed(ctx context.Context) (int64, error)
	MarkProcessed(ctx context.Context, id int64) error
}
