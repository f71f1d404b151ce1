package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Store level sentinels. Stores wrap these so callers can test with errors.Is.
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Kind string

const (
	KindUnknown           Kind = ""
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidRequest    Kind = "INVALID_REQUEST"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindConflict          Kind = "CONFLICT"
	KindPublishFailure    Kind = "PUBLISH_FAILURE"
)

// Error is a classified failure surfaced by the service layer.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func InvalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

func InvalidRequestf(format string, args ...interface{}) *Error {
	return InvalidRequest(fmt.Sprintf(format, args...))
}

func Conflict(message string, err error) *Error {
	return &Error{Kind: KindConflict, Message: message, Err: err}
}

func PublishFailure(eventType string, err error) *Error {
	return &Error{Kind: KindPublishFailure, Message: "failed to publish " + eventType, Err: err}
}

// OutOfStockError rejects a whole reservation batch. Items lists every
// offending demand, not just the first.
type OutOfStockError struct {
	Items []StockRejection
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("%d item(s) out of stock", len(e.Items))
}

// KindOf classifies err; unclassified errors yield KindUnknown.
func KindOf(err error) Kind {
	var oos *OutOfStockError
	if errors.As(err, &oos) {
		return KindInsufficientStock
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
