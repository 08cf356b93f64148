package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed execution.
type ErrorKind string

// Error kinds surfaced by the engine.
const (
	KindInvalidRequest  ErrorKind = "invalid_request"
	KindRuntimeNotFound ErrorKind = "runtime_not_found"
	KindIO              ErrorKind = "io_error"
	KindSpawnFailed     ErrorKind = "spawn_failed"
	KindTimedOut        ErrorKind = "timed_out"
	KindCancelled       ErrorKind = "cancelled"
	KindInternal        ErrorKind = "internal_error"
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrRuntimeNotFound = errors.New("runtime not found")
	ErrIO              = errors.New("workspace i/o error")
	ErrSpawnFailed     = errors.New("process spawn failed")
	ErrTimedOut        = errors.New("execution timed out")
	ErrCancelled       = errors.New("execution cancelled")
	ErrInternal        = errors.New("internal execution error")
)

var sentinels = map[ErrorKind]error{
	KindInvalidRequest:  ErrInvalidRequest,
	KindRuntimeNotFound: ErrRuntimeNotFound,
	KindIO:              ErrIO,
	KindSpawnFailed:     ErrSpawnFailed,
	KindTimedOut:        ErrTimedOut,
	KindCancelled:       ErrCancelled,
	KindInternal:        ErrInternal,
}

// ExecutionError is the typed failure of a single execute call.
type ExecutionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError builds an ExecutionError.
func NewError(kind ErrorKind, op string, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Op: op, Err: err}
}

func (e *ExecutionError) Error() string {
	msg := string(e.Kind)
	if s, ok := sentinels[e.Kind]; ok {
		msg = s.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind.
func (e *ExecutionError) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of err, or KindInternal for errors that are not
// ExecutionErrors. It returns "" for a nil error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindInternal
}
