package media

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the mead packages matches exactly one
// of these with errors.Is.
var (
	ErrIO                 = errors.New("i/o error")
	ErrMalformedContainer = errors.New("malformed container")
	ErrSizeLimitExceeded  = errors.New("size limit exceeded")
	ErrUnsupported        = errors.New("unsupported")
	ErrEngine             = errors.New("codec engine error")
	ErrAlreadyFinished    = errors.New("already finished")
	ErrFrameShared        = errors.New("frame is shared")
	ErrNoTrackSelected    = errors.New("no track selected")
)

// Error carries the operation and detail of a failure along with its kind.
type Error struct {
	Kind   error
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// IOError wraps a read, write or seek failure.
func IOError(op string, err error) error {
	return &Error{Kind: ErrIO, Op: op, Err: err}
}

// Malformed reports a structural parse failure.
func Malformed(op, format string, args ...any) error {
	return &Error{Kind: ErrMalformedContainer, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// MalformedErr reports a structural parse failure caused by err.
func MalformedErr(op string, err error) error {
	return &Error{Kind: ErrMalformedContainer, Op: op, Err: err}
}

// Unsupported reports a recognized structure or request that is not handled.
func Unsupported(op, feature string) error {
	return &Error{Kind: ErrUnsupported, Op: op, Detail: feature}
}

// EngineError wraps an opaque failure surfaced from a codec engine.
func EngineError(op string, err error) error {
	return &Error{Kind: ErrEngine, Op: op, Err: err}
}

// SizeLimitError is returned when a declared size exceeds a configured ceiling.
type SizeLimitError struct {
	Op    string
	Size  uint64
	Limit uint64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s: %v: declared %d bytes, limit %d", e.Op, ErrSizeLimitExceeded, e.Size, e.Limit)
}

func (e *SizeLimitError) Is(target error) bool { return target == ErrSizeLimitExceeded }
