package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures for reporting and recovery.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindValidation  ErrorKind = "validation"
	KindExecution   ErrorKind = "execution"
	KindPersistence ErrorKind = "persistence"
	KindCapacity    ErrorKind = "capacity"
	KindTimeout     ErrorKind = "timeout"
)

// Error is a typed failure produced by a collaborator or the engine itself.
// It unwraps to the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Persistence(msg string, cause error) *Error {
	return &Error{Kind: KindPersistence, Message: msg, Err: cause}
}

func Execution(msg string, cause error) *Error {
	return &Error{Kind: KindExecution, Message: msg, Err: cause}
}

// KindOf returns the kind of err without guessing: typed errors and context
// errors only. Anything else is KindExecution.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		// An execution wrapper around a more specific cause reports the cause.
		if de.Kind == KindExecution && de.Err != nil {
			if inner := KindOf(de.Err); inner != KindExecution {
				return inner
			}
		}
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindExecution
}

// Classify resolves the kind of err. Typed errors win; for untyped errors from
// legacy collaborators it falls back to matching the message text.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if kind := KindOf(err); kind != KindExecution {
		return kind
	}
	return ClassifyText(err.Error())
}

// ClassifyText is the message-sniffing shim for collaborators that do not
// return typed errors.
func ClassifyText(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "rate limit", "ratelimit", "too many requests", "429", "quota", "capacity", "overloaded"):
		return KindCapacity
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return KindTimeout
	default:
		return KindExecution
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Hint returns the user-facing hint for a failure kind.
func Hint(kind ErrorKind) string {
	switch kind {
	case KindCapacity:
		return "The service is busy right now. Please try again in a moment."
	case KindTimeout:
		return "That took longer than expected. Please try again."
	case KindNotFound:
		return "I couldn't find what you asked for."
	case KindPersistence:
		return "Your last change may not have been saved."
	default:
		return "Please try again, or rephrase your request."
	}
}

// Apology is the generic user-facing failure message for kind.
func Apology(kind ErrorKind) string {
	return "Sorry, something went wrong while handling your request. " + Hint(kind)
}
