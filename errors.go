package gptproxy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownOperation is returned by Invoke for names that were never
// registered.
var ErrUnknownOperation = errors.New("gptproxy: unknown operation")

// DecodeExhaustedError reports that every attempt in the retry budget
// produced a response that could not be decoded. LastResponse holds the final
// raw backend text for diagnosis.
type DecodeExhaustedError struct {
	Operation    string
	Attempts     int
	LastResponse string
	Err          error // last decode failure
}

func (e *DecodeExhaustedError) Error() string {
	return fmt.Sprintf("gptproxy: %s: response could not be decoded after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *DecodeExhaustedError) Unwrap() error { return e.Err }

// TimeoutError reports that a backend call did not finish within the
// configured timeout. It unwraps to context.DeadlineExceeded.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gptproxy: %s: backend call timed out after %s", e.Operation, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// InvalidArgumentsError reports arguments that do not match the operation's
// declared parameters.
type InvalidArgumentsError struct {
	Operation string
	Reason    string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("gptproxy: %s: invalid arguments: %s", e.Operation, e.Reason)
}

// BindError reports a struct field Bind could not turn into an operation.
type BindError struct {
	Field string
	Err   error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("gptproxy: bind field %s: %v", e.Field, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
