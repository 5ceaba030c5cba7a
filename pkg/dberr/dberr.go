// Package dberr defines the error kinds shared by all dbx packages.
// Every error returned by dbx wraps exactly one kind sentinel, so callers can branch with errors.Is
// regardless of the backend or the operation that failed.
package dberr

import (
	"errors"
	"fmt"
)

// error kinds
var (
	ErrConnection    = errors.New("connection error") // not connected, connect/select/destroy failure, lost connection
	ErrStatement     = errors.New("statement error")  // prepare/bind/execute/reset failure, parameter count mismatch
	ErrParameter     = errors.New("parameter error")  // unsupported type for binding, invalid parameter
	ErrArithmetic    = errors.New("arithmetic error") // fixed-point or integer overflow, invalid number
	ErrUnimplemented = errors.New("unimplemented")    // operation not supported for a type
	ErrGeneric       = errors.New("generic error")    // backend failure wrapped for logging
	ErrUnknown       = errors.New("unknown error")    // opaque failure without a better kind
)

var kinds = []error{ErrConnection, ErrStatement, ErrParameter, ErrArithmetic, ErrUnimplemented, ErrGeneric, ErrUnknown}

// New makes an error of the given kind with a formatted message.
// The format may contain %w verbs to wrap the underlying cause.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kind}, args...)...)
}

// Wrap makes an error of the given kind wrapping err. Returns nil if err is nil.
// If err already carries a kind it is returned with the message prefixed, keeping the original kind.
func Wrap(kind error, err error, msg string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != ErrUnknown || errors.Is(err, ErrUnknown) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}

// KindOf returns the kind sentinel carried by err, ErrUnknown if there is none.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnknown
}
