package driver

import (
	"fmt"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

var (
	// ErrRxTimeout is returned by Receive when no frame arrives in time.
	ErrRxTimeout = fmt.Errorf("%w: no CAN frame received", diagerr.ErrTiming)
	// ErrClosed is returned by every operation after Close.
	ErrClosed = fmt.Errorf("%w: bus closed", diagerr.ErrTransport)
)

// BusError 表示介质层的读写失败
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() []error { return []error{diagerr.ErrTransport, e.Err} }

// ConnectionError 表示打开后端失败
type ConnectionError struct {
	Descriptor string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Descriptor, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return []error{diagerr.ErrTransport, e.Err} }
