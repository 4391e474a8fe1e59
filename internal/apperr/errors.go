package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies where a failure happened in the pipeline.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidEvent
	KindPersistence
	KindDelivery
	KindDeadLetterWrite
	KindNotFound
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindInvalidEvent:
		return "invalid_event"
	case KindPersistence:
		return "persistence_error"
	case KindDelivery:
		return "delivery_error"
	case KindDeadLetterWrite:
		return "dead_letter_write_error"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal_error"
	}
}

// Code 对外暴露的稳定错误码，与技术细节无关
type Code string

const (
	CodeUserNotFound                Code = "USER_NOT_FOUND"
	CodeNotificationNotFound        Code = "NOTIFICATION_NOT_FOUND"
	CodeInvalidNotificationData     Code = "INVALID_NOTIFICATION_DATA"
	CodeNotificationSendError       Code = "NOTIFICATION_SEND_ERROR"
	CodeNotificationProcessingError Code = "NOTIFICATION_PROCESSING_ERROR"
	CodeKafkaProcessingError        Code = "KAFKA_PROCESSING_ERROR"
	CodeWebSocketError              Code = "WEBSOCKET_ERROR"
	CodeInternalServerError         Code = "INTERNAL_SERVER_ERROR"
)

type codeInfo struct {
	message string
	status  int
}

var catalogue = map[Code]codeInfo{
	CodeUserNotFound:                {"User not found", http.StatusNotFound},
	CodeNotificationNotFound:        {"Notification not found", http.StatusNotFound},
	CodeInvalidNotificationData:     {"Invalid notification data provided", http.StatusBadRequest},
	CodeNotificationSendError:       {"Failed to send notification", http.StatusInternalServerError},
	CodeNotificationProcessingError: {"Error occurred while processing notification", http.StatusInternalServerError},
	CodeKafkaProcessingError:        {"Internal message processing error", http.StatusInternalServerError},
	CodeWebSocketError:              {"Real-time communication error", http.StatusInternalServerError},
	CodeInternalServerError:         {"An unexpected error occurred", http.StatusInternalServerError},
}

// ClientMessage is the generic text shown to API clients for this code.
func (c Code) ClientMessage() string {
	if info, ok := catalogue[c]; ok {
		return info.message
	}
	return catalogue[CodeInternalServerError].message
}

// HTTPStatus returns the response status for this code.
func (c Code) HTTPStatus() int {
	if info, ok := catalogue[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Error is the application error. Message is technical and only goes to logs.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Label is the short classifier used for metrics and dead-letter entries.
func (e *Error) Label() string {
	return e.Kind.String()
}

func New(kind Kind, code Code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func InvalidEvent(message string, err error) *Error {
	return New(KindInvalidEvent, CodeInvalidNotificationData, message, err)
}

func Persistence(message string, err error) *Error {
	return New(KindPersistence, CodeNotificationProcessingError, message, err)
}

func Delivery(message string, err error) *Error {
	return New(KindDelivery, CodeWebSocketError, message, err)
}

func DeadLetterWrite(message string, err error) *Error {
	return New(KindDeadLetterWrite, CodeKafkaProcessingError, message, err)
}

func NotFound(message string, err error) *Error {
	return New(KindNotFound, CodeNotificationNotFound, message, err)
}

func BadRequest(message string, err error) *Error {
	return New(KindBadRequest, CodeInvalidNotificationData, message, err)
}

func Internal(err error) *Error {
	return New(KindInternal, CodeInternalServerError, "internal error", err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalServerError
}
