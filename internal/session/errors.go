package session

import "errors"

// ErrorKind classifies protocol failures for error replies and metrics labels.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindNotFound           ErrorKind = "not_found"
	KindForbidden          ErrorKind = "forbidden"
	KindContentUnavailable ErrorKind = "content_unavailable"
	KindExhausted          ErrorKind = "code_space_exhausted"
)

// ProtocolError is a failure that is reported back to the sending
// connection as an "error" message and never propagates further.
type ProtocolError struct {
	Kind    ErrorKind
	Message string
}

func (e *ProtocolError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func validationErr(msg string) *ProtocolError {
	return &ProtocolError{Kind: KindValidation, Message: msg}
}

func notFoundErr(msg string) *ProtocolError {
	return &ProtocolError{Kind: KindNotFound, Message: msg}
}

func forbiddenErr(msg string) *ProtocolError {
	return &ProtocolError{Kind: KindForbidden, Message: msg}
}

// ErrCodeSpaceExhausted is returned by the store when no free room code
// could be allocated within the configured number of attempts.
var ErrCodeSpaceExhausted = errors.New("room code space exhausted")

// ErrContentNotFound is returned by content providers when a reference
// resolves to nothing. Other provider errors are treated as the content
// backend being unavailable.
var ErrContentNotFound = errors.New("content not found")
