// Package recovery classifies stream errors and paces reconnect attempts.
package recovery

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// Class describes how a subscription error should be treated.
type Class int

const (
	// ClassNone means there was no error.
	ClassNone Class = iota

	// ClassTransient covers connectivity loss and timeouts. Reconnecting
	// from the last position is expected to succeed.
	ClassTransient

	// ClassHistoryLost means the resume position fell off the log. Automatic
	// recovery is not possible; an operator has to reset the stream.
	ClassHistoryLost

	// ClassCanceled means the caller asked to stop.
	ClassCanceled

	// ClassUnknown is any other error. The runner still reconnects.
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassHistoryLost:
		return "history_lost"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Server error codes for change streams whose resume point is gone.
const (
	codeChangeStreamFatalError  = 280
	codeChangeStreamHistoryLost = 286
)

// Classify inspects err and reports its class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeChangeStreamHistoryLost) || se.HasErrorCode(codeChangeStreamFatalError)) {
		return ClassHistoryLost
	}
	if isHistoryLostMessage(err) {
		return ClassHistoryLost
	}

	if errors.Is(err, context.DeadlineExceeded) || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return ClassTransient
	}
	if isTransientMessage(err) {
		return ClassTransient
	}
	return ClassUnknown
}

// isHistoryLostMessage checks the error text for resume-token failures
// raised by servers that do not set a code.
func isHistoryLostMessage(err error) bool {
	return containsAny(err.Error(),
		"resume token was not found",
		"resume point may no longer be in the oplog",
		"ChangeStreamHistoryLost",
		"ChangeStreamFatalError",
	)
}

func isTransientMessage(err error) bool {
	return containsAny(err.Error(),
		"connection reset",
		"connection refused",
		"broken pipe",
		"EOF",
		"timeout",
		"network",
		"temporary failure",
		"server selection",
	)
}

func containsAny(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
