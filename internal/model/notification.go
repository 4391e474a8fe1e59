package model

import "time"

// EventType 上游领域事件类型
type EventType string

const (
	EventRentalRequestCreated  EventType = "RENTAL_REQUEST_CREATED"
	EventRentalRequestAccepted EventType = "RENTAL_REQUEST_ACCEPTED"
	EventRentalRequestRejected EventType = "RENTAL_REQUEST_REJECTED"
	EventPaymentReceived       EventType = "PAYMENT_RECEIVED"
	EventContractCreated       EventType = "CONTRACT_CREATED"
	EventKeyDelivered          EventType = "KEY_DELIVERED"
)

var eventTypes = map[EventType]struct{}{
	EventRentalRequestCreated:  {},
	EventRentalRequestAccepted: {},
	EventRentalRequestRejected: {},
	EventPaymentReceived:       {},
	EventContractCreated:       {},
	EventKeyDelivered:          {},
}

func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// Channel 投递渠道
type Channel string

const (
	ChannelPush  Channel = "PUSH"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// Status of a delivery unit. READ is terminal.
type Status string

const (
	StatusUnread Status = "UNREAD"
	StatusRead   Status = "READ"
	StatusFailed Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnread, StatusRead, StatusFailed:
		return true
	}
	return false
}

// Event is one inbound domain event. It is consumed once and never stored as-is.
type Event struct {
	EventType EventType         `validate:"required,event_type"`
	UserIDs   []int64           `validate:"required,min=1,dive,gt=0"`
	Title     string            `validate:"max=255"`
	Message   string
	Channels  []Channel         `validate:"required,min=1,dive,channel"`
	Metadata  map[string]string
}

// NotificationRecord is the stored form of one expanded event.
type NotificationRecord struct {
	ID        int64
	EventType EventType
	Title     string
	Message   string
	Metadata  map[string]string
	CreatedAt time.Time
	Units     []DeliveryUnit
}

// DeliveryUnit is a single (user, channel) delivery attempt owned by one record.
type DeliveryUnit struct {
	ID             int64
	NotificationID int64
	UserID         int64
	Channel        Channel
	Status         Status
	SentAt         *time.Time
}

// DeadLetterEntry 处理失败的原始消息，供人工排查与重试
type DeadLetterEntry struct {
	ID           int64      `json:"id"`
	Topic        string     `json:"topic"`
	Partition    int32      `json:"partition"`
	Offset       int64      `json:"offset"`
	// Payload 是可读预览；PayloadRaw 保留原始字节用于重放
	Payload      string     `json:"payload"`
	PayloadRaw   []byte     `json:"-"`
	ErrorType    string     `json:"errorType"`
	Retryable    bool       `json:"retryable"`
	ErrorMessage string     `json:"errorMessage"`
	StackTrace   string     `json:"stackTrace"`
	Processed    bool       `json:"processed"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
}

// RawPayload returns the bytes to replay. Entries written without raw bytes fall back to Payload.
func (e *DeadLetterEntry) RawPayload() []byte {
	if len(e.PayloadRaw) > 0 {
		return e.PayloadRaw
	}
	return []byte(e.Payload)
}

// NotificationDTO is the per-user view of a delivery unit joined with its record.
// It is both the read-API item and the push payload.
type NotificationDTO struct {
	ID        int64             `json:"id"`
	UserID    int64             `json:"userId"`
	EventType EventType         `json:"eventType"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Status    Status            `json:"status"`
	SentAt    *time.Time        `json:"sentAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewNotificationDTO builds the view of unit u inside record rec.
func NewNotificationDTO(u DeliveryUnit, rec *NotificationRecord) NotificationDTO {
	return NotificationDTO{
		ID:        u.ID,
		UserID:    u.UserID,
		EventType: rec.EventType,
		Title:     rec.Title,
		Message:   rec.Message,
		Status:    u.Status,
		SentAt:    u.SentAt,
		Metadata:  rec.Metadata,
	}
}
