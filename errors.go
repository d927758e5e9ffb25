package realtime

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes engine errors.
type ErrorKind string

const (
	ErrKindCredential      ErrorKind = "credential_error"
	ErrKindMediaAccess     ErrorKind = "media_access_error"
	ErrKindSignaling       ErrorKind = "signaling_error"
	ErrKindChannelNotReady ErrorKind = "channel_not_ready"
	ErrKindDecode          ErrorKind = "decode_error"
	ErrKindDuplicateStart  ErrorKind = "duplicate_start"
)

// Error is the engine's typed error. Underlying, when set, carries the
// transport/provider cause and is exposed through Unwrap.
type Error struct {
	Kind       ErrorKind
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Underlying }

// Is makes errors.Is match any *Error of the same kind, so callers can use
// the sentinel values below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newError(kind ErrorKind, message string, underlying error) *Error {
	return &Error{Kind: kind, Message: message, Underlying: underlying}
}

// Sentinels for errors.Is checks.
var (
	ErrDuplicateStart  = &Error{Kind: ErrKindDuplicateStart, Message: "session already negotiating or active"}
	ErrChannelNotReady = &Error{Kind: ErrKindChannelNotReady, Message: "event channel is not open"}
)

// KindOf returns the ErrorKind of err, or "" when err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
