package divert

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrLoaded struct{}

func (ErrLoaded) Error() string   { return "divert loaded" }
func (ErrLoaded) Temporary() bool { return true }

type ErrNotLoad struct{}

func (ErrNotLoad) Error() string { return "divert not load" }

type ErrShutdown struct{}

func (ErrShutdown) Error() string { return "divert handle shutdown" }

type ErrClosed struct{}

func (ErrClosed) Error() string { return "divert handle closed" }

type ErrNotSupported struct{}

func (ErrNotSupported) Error() string { return "divert not supported on this platform" }

// OpError is returned when a native call fails. Op is the name of the
// WinDivert function, Err the classified cause (ErrClosed, ErrShutdown,
// io.ErrShortBuffer or the raw errno).
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *OpError) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	return errors.WithStack(&OpError{Op: op, Err: err})
}

// InvalidFilterError reports a filter the compiler rejected, Pos is the
// byte offset of the offending token.
type InvalidFilterError struct {
	Filter string
	Msg    string
	Pos    uint32
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter %q: %s (position %d)", e.Filter, e.Msg, e.Pos)
}

type InvalidArgumentError struct {
	Name   string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Name, e.Reason)
}

func invalidArgument(name, format string, args ...any) error {
	return errors.WithStack(&InvalidArgumentError{Name: name, Reason: fmt.Sprintf(format, args...)})
}
