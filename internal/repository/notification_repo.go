package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/otel"
)

type NotificationRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewNotificationRepository(db DBTX, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

const (
	insertNotificationSQL = `
        INSERT INTO notifications (event_type, title, message, metadata)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at
    `
	insertUnitSQL = `
        INSERT INTO delivery_units (notification_id, user_id, channel, status, sent_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	// READ 不会被覆盖
	updateUnitSQL = `
        UPDATE delivery_units
        SET status = CASE WHEN status = 'READ' THEN status ELSE $2 END,
            sent_at = $3
        WHERE id = $1
    `
	selectUnitSQL = `
        SELECT id, notification_id, user_id, channel, status, sent_at
        FROM delivery_units
    `
)

// Save 在同一事务中写入通知及其全部投递单元
func (r *NotificationRepository) Save(ctx context.Context, rec *model.NotificationRecord) error {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var (
		recordID  int64
		createdAt time.Time
		unitIDs   = make([]int64, len(rec.Units))
	)

	err = otel.DB(ctx, "insert", "notifications", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			if err := tx.QueryRow(ctx, insertNotificationSQL,
				string(rec.EventType), rec.Title, rec.Message, metaJSON,
			).Scan(&recordID, &createdAt); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}

			batch := &pgx.Batch{}
			for _, u := range rec.Units {
				batch.Queue(insertUnitSQL, recordID, u.UserID, string(u.Channel), string(u.Status), u.SentAt)
			}
			br := tx.SendBatch(ctx, batch)
			for i := range rec.Units {
				if err := br.QueryRow().Scan(&unitIDs[i]); err != nil {
					br.Close()
					return fmt.Errorf("insert delivery unit: %w", err)
				}
			}
			return br.Close()
		})
	})
	if err != nil {
		r.logger.Error("Failed to save notification", zap.Error(err))
		return err
	}

	rec.ID = recordID
	rec.CreatedAt = createdAt
	for i := range rec.Units {
		rec.Units[i].ID = unitIDs[i]
		rec.Units[i].NotificationID = recordID
	}

	r.logger.Debug("Notification saved",
		zap.Int64("id", rec.ID),
		zap.Int("units", len(rec.Units)),
	)
	return nil
}

// SaveAll 批量更新投递单元状态（同一事务）
func (r *NotificationRepository) SaveAll(ctx context.Context, units []model.DeliveryUnit) error {
	if len(units) == 0 {
		return nil
	}

	return otel.DB(ctx, "update", "delivery_units", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, u := range units {
				batch.Queue(updateUnitSQL, u.ID, string(u.Status), u.SentAt)
			}
			br := tx.SendBatch(ctx, batch)
			for _, u := range units {
				tag, err := br.Exec()
				if err != nil {
					br.Close()
					return fmt.Errorf("update delivery unit %d: %w", u.ID, err)
				}
				if tag.RowsAffected() == 0 {
					br.Close()
					return fmt.Errorf("delivery unit %d: %w", u.ID, ErrNotFound)
				}
			}
			return br.Close()
		})
	})
}

func (r *NotificationRepository) FindUnitByID(ctx context.Context, id int64) (*model.DeliveryUnit, error) {
	var u *model.DeliveryUnit
	err := otel.DB(ctx, "select", "delivery_units", func(ctx context.Context) error {
		found, err := scanUnit(r.db.QueryRow(ctx, selectUnitSQL+` WHERE id = $1`, id))
		u = found
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *NotificationRepository) FindUnitsByNotification(ctx context.Context, notificationID int64) ([]model.DeliveryUnit, error) {
	var units []model.DeliveryUnit
	err := otel.DB(ctx, "select", "delivery_units", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, selectUnitSQL+` WHERE notification_id = $1 ORDER BY id`, notificationID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUnit(rows)
			if err != nil {
				return err
			}
			units = append(units, *u)
		}
		return rows.Err()
	})
	return units, err
}

func (r *NotificationRepository) FindByUserOrderBySentAtDesc(ctx context.Context, userID int64) ([]model.NotificationDTO, error) {
	const query = `
        SELECT u.id, u.user_id, n.event_type, n.title, n.message, u.status, u.sent_at, n.metadata
        FROM delivery_units u
        JOIN notifications n ON n.id = u.notification_id
        WHERE u.user_id = $1
        ORDER BY u.sent_at DESC NULLS LAST, u.id DESC
    `
	out := []model.NotificationDTO{}
	err := otel.DB(ctx, "select", "delivery_units", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				dto       model.NotificationDTO
				eventType string
				status    string
				metaJSON  []byte
			)
			if err := rows.Scan(&dto.ID, &dto.UserID, &eventType, &dto.Title, &dto.Message, &status, &dto.SentAt, &metaJSON); err != nil {
				return err
			}
			dto.EventType = model.EventType(eventType)
			dto.Status = model.Status(status)
			if len(metaJSON) > 0 {
				if err := json.Unmarshal(metaJSON, &dto.Metadata); err != nil {
					return fmt.Errorf("decode metadata: %w", err)
				}
			}
			out = append(out, dto)
		}
		return rows.Err()
	})
	return out, err
}

func (r *NotificationRepository) CountByUserAndStatus(ctx context.Context, userID int64, status model.Status) (int64, error) {
	var n int64
	err := otel.DB(ctx, "count", "delivery_units", func(ctx context.Context) error {
		return r.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM delivery_units WHERE user_id = $1 AND status = $2`,
			userID, string(status),
		).Scan(&n)
	})
	return n, err
}

// DeleteNotification 删除通知，投递单元由外键级联删除
func (r *NotificationRepository) DeleteNotification(ctx context.Context, id int64) error {
	return otel.DB(ctx, "delete", "notifications", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanUnit(row pgx.Row) (*model.DeliveryUnit, error) {
	var (
		u       model.DeliveryUnit
		channel string
		status  string
	)
	if err := row.Scan(&u.ID, &u.NotificationID, &u.UserID, &channel, &status, &u.SentAt); err != nil {
		return nil, err
	}
	u.Channel = model.Channel(channel)
	u.Status = model.Status(status)
	return &u, nil
}
