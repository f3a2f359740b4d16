package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame      = errors.New("protocol: malformed frame")
	ErrUnknownKind         = errors.New("protocol: unknown message kind")
	ErrMalformedPayload    = errors.New("protocol: malformed payload")
	ErrUnexpectedMessageID = errors.New("protocol: unexpected message id")
	ErrUnknownReplyTag     = errors.New("protocol: unknown login reply tag")
	ErrNotRequest          = errors.New("protocol: kind is not a request")
)

// ProtocolError reports bytes or messages that violate the wire contract.
// Fatal errors leave the stream in an unknown position and the connection
// must be dropped; non-fatal ones only invalidate the current message.
type ProtocolError struct {
	Kind      Kind
	MessageID uint64
	Fatal     bool
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Kind == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (kind=%s message_id=%d)", e.Err, e.Kind, e.MessageID)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a ProtocolError that poisons the stream.
func IsFatal(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.Fatal
}

// UnexpectedResponseError is returned when a reply has a legal kind that is
// not the one the request expects.
type UnexpectedResponseError struct {
	Expected Kind
	Got      Kind
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("protocol: unexpected response kind=%s expected=%s", e.Got, e.Expected)
}

// ServerError carries the message of an error-kind reply.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server: " + e.Message
}
