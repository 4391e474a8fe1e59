package model

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func eventValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
			return EventType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
			return Channel(fl.Field().String()).Valid()
		})
		validate = v
	})
	return validate
}

// Validate checks the event shape: known type, at least one positive user id,
// at least one known channel.
func (e *Event) Validate() error {
	return eventValidator().Struct(e)
}

// Normalize drops repeated user ids and channels, keeping first occurrence order,
// so that (user, channel) stays unique inside one record.
func (e *Event) Normalize() {
	e.UserIDs = dedupe(e.UserIDs)
	e.Channels = dedupe(e.Channels)
}

func dedupe[T comparable](in []T) []T {
	if len(in) < 2 {
		return in
	}
	seen := make(map[T]struct{}, len(in))
	out := in[:0:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
