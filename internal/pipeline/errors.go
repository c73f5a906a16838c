package pipeline

import (
	"errors"
	"fmt"
)

// ErrRateLimited is wrapped by inference collaborators when the provider
// asks the caller to slow down.
var ErrRateLimited = errors.New("rate limited")

// ErrMalformedResponse is wrapped when model output cannot be used.
var ErrMalformedResponse = errors.New("malformed model response")

// TransportError is a mailbox or outbound delivery failure. It aborts the
// current cycle and escalates the idle wait.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// InferenceError is a failed model call. It is contained to one message.
type InferenceError struct {
	Stage string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

func transportError(op string, err error) error {
	if err == nil || IsTransport(err) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
