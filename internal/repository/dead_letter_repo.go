package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"notifyhub/internal/model"
	"notifyhub/pkg/otel"
	"notifyhub/pkg/util"
)

type DeadLetterRepository struct {
	db DBTX
}

func NewDeadLetterRepository(db DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

const selectDeadLetterSQL = `
    SELECT id, topic, partition_id, message_offset, payload, payload_raw, error_type,
           retryable, error_message, stack_trace, processed, created_at, processed_at
    FROM dead_letter_entries
`

// SaveDeadLetterEntry 插入死信记录。TEXT 列不接受 NUL 和非法 UTF-8，原始字节写入 payload_raw
func (r *DeadLetterRepository) SaveDeadLetterEntry(ctx context.Context, e *model.DeadLetterEntry) error {
	const query = `
        INSERT INTO dead_letter_entries
            (topic, partition_id, message_offset, payload, payload_raw, error_type, retryable,
             error_message, stack_trace, processed)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
        RETURNING id, created_at
    `
	return otel.DB(ctx, "insert", "dead_letter_entries", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query,
			util.SafeText(e.Topic),
			e.Partition,
			e.Offset,
			util.SafeText(e.Payload),
			e.PayloadRaw,
			util.SafeText(e.ErrorType),
			e.Retryable,
			util.SafeText(e.ErrorMessage),
			util.SafeText(e.StackTrace),
		).Scan(&e.ID, &e.CreatedAt)
	})
}

// ListUnprocessed 获取待重试的死信，按创建时间升序
func (r *DeadLetterRepository) ListUnprocessed(ctx context.Context) ([]model.DeadLetterEntry, error) {
	return r.list(ctx, selectDeadLetterSQL+`
        WHERE processed = FALSE
        ORDER BY created_at ASC, id ASC
    `)
}

func (r *DeadLetterRepository) ListUnprocessedOlderThan(ctx context.Context, cutoff time.Time) ([]model.DeadLetterEntry, error) {
	return r.list(ctx, selectDeadLetterSQL+`
        WHERE processed = FALSE AND created_at < $1
        ORDER BY created_at ASC, id ASC
    `, cutoff)
}

func (r *DeadLetterRepository) list(ctx context.Context, query string, args ...any) ([]model.DeadLetterEntry, error) {
	entries := []model.DeadLetterEntry{}
	err := otel.DB(ctx, "select", "dead_letter_entries", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanDeadLetter(rows)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

func (r *DeadLetterRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	var n int64
	err := otel.DB(ctx, "count", "dead_letter_entries", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_entries WHERE processed = FALSE`).Scan(&n)
	})
	return n, err
}

// MarkProcessed 标记死信已成功重放（幂等）
func (r *DeadLetterRepository) MarkProcessed(ctx context.Context, id int64) error {
	const query = `
        UPDATE dead_letter_entries
        SET processed = TRUE, processed_at = COALESCE(processed_at, NOW())
        WHERE id = $1
    `
	return otel.DB(ctx, "update", "dead_letter_entries", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, query, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanDeadLetter(row pgx.Row) (model.DeadLetterEntry, error) {
	var e model.DeadLetterEntry
	err := row.Scan(
		&e.ID,
		&e.Topic,
		&e.Partition,
		&e.Offset,
		&e.Payload,
		&e.PayloadRaw,
		&e.ErrorType,
		&e.Retryable,
		&e.ErrorMessage,
		&e.StackTrace,
		&e.Processed,
		&e.CreatedAt,
		&e.ProcessedAt,
	)
	return e, err
}
