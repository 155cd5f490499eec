package librtm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("program exit")
	ErrRateLimit        = errors.New("rate limit exceeded")
	ErrNotConnected     = errors.New("transport is not connected")

	ErrClosed  = errors.New("client has been closed")
	ErrTimeout = errors.New("timed out waiting for the supervisor")

	// ErrQueueFull is logged when an outbound command is dropped because the
	// pending queue is at capacity while reconnecting.
	ErrQueueFull = errors.New("pending outbound queue is full")
	// ErrWriteQueueFull is returned by a transport whose peer stopped
	// reading fast enough to drain its write queue.
	ErrWriteQueueFull = errors.New("transport write queue is full")

	// ErrListenerGone is returned by Listener.Deliver once the listener can no
	// longer receive events. The registry prunes it.
	ErrListenerGone = errors.New("listener is gone")
	// ErrListenerFull is returned by buffered listeners that had to drop an event.
	ErrListenerFull = errors.New("listener buffer is full")
)

// APIError is returned by the bootstrap client when the web API answers with ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Method, e.Code)
}

// DecodeError describes an inbound frame that carried a discriminant but could not be decoded.
type DecodeError struct {
	Type string
	err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("cannot decode frame: %s", e.err)
	}
	return fmt.Sprintf("cannot decode %q event: %s", e.Type, e.err)
}

func (e *DecodeError) Unwrap() error { return e.err }
