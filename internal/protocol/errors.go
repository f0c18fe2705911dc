package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownKind marks a well-formed datagram with a type we do not handle.
var ErrUnknownKind = errors.New("unknown message type")

// DecodeError describes a datagram that could not be turned into a Message.
type DecodeError struct {
	Kind   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode"
	if e.Kind != "" {
		msg += " " + e.Kind
	}
	msg += ": " + e.Reason
	if e.Err != nil && !errors.Is(e.Err, ErrUnknownKind) {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a message that could not be serialised.
type EncodeError struct {
	Reason string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode: %s: %v", e.Reason, e.Err)
	}
	return "encode: " + e.Reason
}

func (e *EncodeError) Unwrap() error { return e.Err }
