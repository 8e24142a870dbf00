package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed is returned by channel operations after Close.
	ErrChannelClosed = errors.New("messaging: channel closed")

	// ErrProtocolViolation marks misuse of the request/reply ordering.
	ErrProtocolViolation = errors.New("messaging: request/reply protocol violation")

	// ErrReplyPending is returned by Poll while a reply is still owed.
	ErrReplyPending = fmt.Errorf("%w: poll while a reply is pending", ErrProtocolViolation)

	// ErrNoPendingRequest is returned by Reply when nothing was polled.
	ErrNoPendingRequest = fmt.Errorf("%w: reply without a pending request", ErrProtocolViolation)

	// ErrQueueFull is returned when the directive queue cannot take more.
	ErrQueueFull = errors.New("messaging: directive queue full")
)

// TransportError is a bind, send or receive failure at the channel layer.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a malformed directive payload.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "invalid directive: " + e.Reason
	}
	return fmt.Sprintf("invalid directive: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HandlerError is a failure of the registered directive handler.
type HandlerError struct {
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("directive handler: %v", e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// LifecycleError is an operation attempted in the wrong bridge state.
type LifecycleError struct {
	Op    string
	State string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("bridge %s: not allowed in state %s", e.Op, e.State)
}
