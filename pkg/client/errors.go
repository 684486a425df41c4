package client

import (
	"errors"
	"fmt"

	"github.com/lightforgemedia/go-wabridge/pkg/native"
)

// ErrDisconnected is returned by every operation after Disconnect and is
// delivered to requests still pending at teardown.
var ErrDisconnected = errors.New("client: disconnected")

// ValidationError reports an argument rejected before reaching the engine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("client: invalid %s: %s", e.Field, e.Reason)
}

// RequestFailedError reports a query that could not be issued (Status holds
// the engine's answer) or that the engine answered with an error (Err).
type RequestFailedError struct {
	Call   native.Call
	Status native.Status
	Err    error
}

func (e *RequestFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client: %s failed: %v", e.Call, e.Err)
	}
	return fmt.Sprintf("client: %s not issued (status %d)", e.Call, e.Status)
}

func (e *RequestFailedError) Unwrap() error { return e.Err }
