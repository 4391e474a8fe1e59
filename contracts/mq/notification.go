package mq

import (
	"bytes"
	"encoding/json"

	"notifyhub/internal/model"
)

// NotificationEventPayload 上游通知事件的 payload（camelCase，与生产方保持一致）
type NotificationEventPayload struct {
	EventType string            `json:"eventType"`
	UserIDs   []int64           `json:"userIds"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Channels  []string          `json:"channels"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DecodeNotificationEvent parses a raw message value. A blank body or a JSON
// null yields (nil, nil).
func DecodeNotificationEvent(raw []byte) (*NotificationEventPayload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var p *NotificationEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// ToEvent converts the wire payload into the domain event. Enum values are
// carried as-is; validation happens in the fan-out engine.
func (p *NotificationEventPayload) ToEvent() *model.Event {
	if p == nil {
		return nil
	}
	channels := make([]model.Channel, 0, len(p.Channels))
	for _, c := range p.Channels {
		channels = append(channels, model.Channel(c))
	}
	return &model.Event{
		EventType: model.EventType(p.EventType),
		UserIDs:   p.UserIDs,
		Title:     p.Title,
		Message:   p.Message,
		Channels:  channels,
		Metadata:  p.Metadata,
	}
}

// FromEvent is the inverse of ToEvent, used by producers.
func FromEvent(e *model.Event) NotificationEventPayload {
	channels := make([]string, 0, len(e.Channels))
	for _, c := range e.Channels {
		channels = append(channels, string(c))
	}
	return NotificationEventPayload{
		EventType: string(e.EventType),
		UserIDs:   e.UserIDs,
		Title:     e.Title,
		Message:   e.Message,
		Channels:  channels,
		Metadata:  e.Metadata,
	}
}
