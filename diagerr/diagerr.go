// Package diagerr defines the error categories shared by every layer of the
// diagnostic stack. Typed errors in the other packages unwrap to exactly one
// of these sentinels, so callers can classify any failure with errors.Is.
package diagerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport: link down, no ACK, backend open failure.
	ErrTransport = errors.New("transport error")
	// ErrTiming: ISO-TP reassembly timeout or response timeout.
	ErrTiming = errors.New("timing error")
	// ErrProtocol: malformed frame, sequence violation, unexpected service id.
	ErrProtocol = errors.New("protocol error")
	// ErrNegativeResponse: the ECU rejected the request.
	ErrNegativeResponse = errors.New("negative response")
	// ErrSecurity: invalid key, cooldown active, missing key material.
	ErrSecurity = errors.New("security error")
	// ErrTransfer: a flash or memory transfer job failed.
	ErrTransfer = errors.New("transfer error")
	// ErrInvalidArgument: the request was rejected before touching the bus.
	ErrInvalidArgument = errors.New("invalid argument")
)

var categories = []error{
	ErrTransfer,
	ErrSecurity,
	ErrNegativeResponse,
	ErrProtocol,
	ErrTiming,
	ErrTransport,
	ErrInvalidArgument,
}

// Error attaches a category and the failing operation to an underlying error.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transport(op string, err error) error { return Wrap(ErrTransport, op, err) }
func Timing(op string, err error) error    { return Wrap(ErrTiming, op, err) }
func Protocol(op string, err error) error  { return Wrap(ErrProtocol, op, err) }

// InvalidArgument builds a categorised error from a format string.
func InvalidArgument(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

// Kind returns the most specific category err belongs to, or nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range categories {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// IsTransient reports whether err is worth retrying for an idempotent read.
func IsTransient(err error) bool {
	k := Kind(err)
	return k == ErrTransport || k == ErrTiming
}
