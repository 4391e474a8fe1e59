package mq

import (
	"context"
	"time"
)

// Message 与具体传输无关的入站消息
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one message. A nil return acknowledges it; an error
// withholds the acknowledgement so the transport redelivers.
type MessageHandler func(ctx context.Context, msg Message) error
