package apierr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a failure.
type Kind uint8

const (
	// KindAuthNotReady means the operation needs an entity API key and none is set.
	KindAuthNotReady Kind = iota + 1

	// KindAuthRejected means the middleware reported a missing or invalid key.
	KindAuthRejected

	// KindProtocol means the response matched no known success or failure marker.
	KindProtocol

	// KindNetwork covers connection refused, TLS failures, resets and timeouts.
	KindNetwork

	// KindAlreadySubscribed means a subscription is already running.
	KindAlreadySubscribed

	// KindCancelled means a stream ended because it was stopped. Not a failure.
	KindCancelled

	// KindRejected means the middleware declined the request with a
	// well-formed failure response (e.g. registering an existing entity).
	KindRejected
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAuthNotReady:
		return "AUTH_NOT_READY"
	case KindAuthRejected:
		return "AUTH_REJECTED"
	case KindProtocol:
		return "PROTOCOL_ERROR"
	case KindNetwork:
		return "NETWORK_ERROR"
	case KindAlreadySubscribed:
		return "ALREADY_SUBSCRIBED"
	case KindCancelled:
		return "CANCELLED"
	case KindRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified middleware failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op is the operation that failed ("publish", "subscribe", ...).
	Op string

	// Message is a human-readable description, often the server's own text.
	Message string

	// StatusCode is the HTTP status of the response, 0 if none was received.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return "ideam: " + e.Kind.String()
		}
		return fmt.Sprintf("ideam: %s: %s", e.Kind, msg)
	}
	if msg == "" {
		return fmt.Sprintf("ideam: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("ideam: %s: %s: %s", e.Op, e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. Sentinels carry
// only a kind, so errors.Is(err, ErrAuthRejected) matches any rejection
// regardless of operation or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error) //nolint:errorlint // comparing against sentinels
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrAuthNotReady      = &Error{Kind: KindAuthNotReady}
	ErrAuthRejected      = &Error{Kind: KindAuthRejected}
	ErrProtocol          = &Error{Kind: KindProtocol}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrAlreadySubscribed = &Error{Kind: KindAlreadySubscribed}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrRejected          = &Error{Kind: KindRejected}
)

// New returns an *Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap returns an *Error of the given kind wrapping cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}
