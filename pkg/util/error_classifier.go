package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// labeled 由携带分类标签的业务错误实现
type labeled interface {
	Label() string
}

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// 业务错误：由错误自身提供标签，持久化失败视为可重试
	var l labeled
	if errors.As(err, &l) {
		label := l.Label()
		return label == "persistence_error" || label == "delivery_error", label
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}
	if strings.HasPrefix(err.Error(), "json:") || strings.Contains(err.Error(), "unexpected end of JSON input") {
		return false, "json_decode_error"
	}

	// Context 取消/超时
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// Database errors
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			// 唯一约束冲突 - 不可重试（幂等性）
			return false, "duplicate_key"
		}
		// 08 类为连接异常
		if strings.HasPrefix(pgErr.Code, "08") {
			return true, "db_connection_error"
		}
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}
