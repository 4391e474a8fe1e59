package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type labeledErr struct{ label string }

func (e labeledErr) Error() string { return e.label }
func (e labeledErr) Label() string { return e.label }

func TestIsRetryableError(t *testing.T) {
	var decoded map[string]any
	syntaxErr := json.Unmarshal([]byte(`{"a":`), &decoded)
	typeErr := json.Unmarshal([]byte(`{"userIds":"x"}`), &struct {
		UserIDs []int64 `json:"userIds"`
	}{})

	tests := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"nil", nil, false, ""},
		{"truncated json", syntaxErr, false, "json_decode_error"},
		{"type mismatch", fmt.Errorf("decode: %w", typeErr), false, "json_decode_error"},
		{"deadline", fmt.Errorf("save: %w", context.DeadlineExceeded), true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"no rows", pgx.ErrNoRows, false, "not_found"},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false, "duplicate_key"},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true, "db_connection_error"},
		{"labeled persistence", labeledErr{"persistence_error"}, true, "persistence_error"},
		{"labeled invalid", fmt.Errorf("wrap: %w", labeledErr{"invalid_event"}), false, "invalid_event"},
		{"unknown", errors.New("boom"), false, "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tt.err)
			assert.Equal(t, tt.retryable, retryable)
			assert.Equal(t, tt.errType, errType)
		})
	}
}

func TestFormatRetryKey(t *testing.T) {
	assert.Equal(t, "retry:dlq:42", FormatRetryKey("dlq", 42))
}

func TestSafeText(t *testing.T) {
	out := SafeText("\x00\xff{\"a\x00b\":1}")
	assert.True(t, utf8.ValidString(out))
	assert.NotContains(t, out, "\x00")
	assert.Equal(t, "�{\"ab\":1}", out)

	assert.Equal(t, "plain text", SafeText("plain text"))
}
