package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCode  = errors.New("unknown control code")
	ErrMissingField = errors.New("missing field")
	ErrBadTimestamp = errors.New("timestamp out of range")
	ErrNotUTF8      = errors.New("payload is not valid utf-8")
)

// DecodeError reports a datagram that could not be turned into a Message.
// Receivers log it and move on to the next datagram.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d byte datagram: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError is a socket level failure. It ends whichever loop owns the
// socket; nothing retries it.
type TransportError struct {
	Op   string // "read" or "write"
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolViolation is a well formed request the server refuses, such as a
// join to a group it does not know. It goes back to the requester as an
// Error coded message.
type ProtocolViolation struct {
	Code   ControlCode
	Reason string
}

func (e *ProtocolViolation) Error() string { return e.Reason }

// UnknownGroup is the violation for a join to a group the server lacks.
func UnknownGroup(name string) *ProtocolViolation {
	return &ProtocolViolation{Code: JoinGroup, Reason: fmt.Sprintf("group %s not exist", name)}
}
