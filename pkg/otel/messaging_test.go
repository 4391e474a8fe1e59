package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderCarrier(t *testing.T) {
	c := HeaderCarrier{}
	c.Set("traceparent", "00-abc-def-01")

	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Empty(t, c.Get("tracestate"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}

func TestConsumeSpanWithoutInit(t *testing.T) {
	ctx, span := ConsumeSpan(context.Background(), "kafka", "notifications", 3, 42, map[string]string{"traceparent": "garbage"})
	assert.NotNil(t, ctx)
	EndSpan(span, errors.New("failed"))
}

func TestDBRecordsResult(t *testing.T) {
	sentinel := errors.New("insert failed")
	err := DB(context.Background(), "insert", "notifications", func(context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}
