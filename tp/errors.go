package tp

import "github.com/LoveWonYoung/udsdiag/diagerr"

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// IsoTpError is the base of every transport-layer error. Unless a more
// specific type says otherwise it is classified as a protocol error.
type IsoTpError struct {
	msg string
}

func NewIsoTpError(msg string) IsoTpError {
	return IsoTpError{msg: msg}
}

func (e IsoTpError) Error() string {
	return messageOrDefault(e.msg, "ISO-TP error")
}

func (e IsoTpError) Unwrap() error { return diagerr.ErrProtocol }

type BlockingSendFailure struct {
	IsoTpError
}

func (e BlockingSendFailure) Error() string {
	return messageOrDefault(e.msg, "blocking send failed to complete")
}

func (e BlockingSendFailure) Unwrap() error { return diagerr.ErrTransport }

type FlowControlTimeoutError struct {
	IsoTpError
}

func (e FlowControlTimeoutError) Error() string {
	return messageOrDefault(e.msg, "flow control frame not received in time")
}

func (e FlowControlTimeoutError) Unwrap() error { return diagerr.ErrTiming }

type ConsecutiveFrameTimeoutError struct {
	IsoTpError
}

func (e ConsecutiveFrameTimeoutError) Error() string {
	return messageOrDefault(e.msg, "consecutive frame not received in time")
}

func (e ConsecutiveFrameTimeoutError) Unwrap() error { return diagerr.ErrTiming }

type RxTimeoutError struct {
	IsoTpError
}

func (e RxTimeoutError) Error() string {
	return messageOrDefault(e.msg, "no message received in time")
}

func (e RxTimeoutError) Unwrap() error { return diagerr.ErrTiming }

type InvalidCanDataError struct {
	IsoTpError
}

func (e InvalidCanDataError) Error() string {
	return messageOrDefault(e.msg, "invalid CAN data received")
}

type UnexpectedConsecutiveFrameError struct {
	IsoTpError
}

func (e UnexpectedConsecutiveFrameError) Error() string {
	return messageOrDefault(e.msg, "unexpected consecutive frame received")
}

type ReceptionInterruptedWithSingleFrameError struct {
	IsoTpError
}

func (e ReceptionInterruptedWithSingleFrameError) Error() string {
	return messageOrDefault(e.msg, "reception interrupted by a single frame")
}

type ReceptionInterruptedWithFirstFrameError struct {
	IsoTpError
}

func (e ReceptionInterruptedWithFirstFrameError) Error() string {
	return messageOrDefault(e.msg, "reception interrupted by a first frame")
}

type WrongSequenceNumberError struct {
	IsoTpError
	Expected int
	Received int
}

func (e WrongSequenceNumberError) Error() string {
	return messageOrDefault(e.msg, "wrong sequence number in consecutive frame")
}

type MaximumWaitFrameReachedError struct {
	IsoTpError
}

func (e MaximumWaitFrameReachedError) Error() string {
	return messageOrDefault(e.msg, "maximum wait flow control frames reached")
}

func (e MaximumWaitFrameReachedError) Unwrap() error { return diagerr.ErrTiming }

type FrameTooLongError struct {
	IsoTpError
}

func (e FrameTooLongError) Error() string {
	return messageOrDefault(e.msg, "first frame length exceeds maximum frame size")
}

// MessageTooLongError rejects a send before anything reaches the bus.
type MessageTooLongError struct {
	IsoTpError
	Size int
	Max  int
}

func (e MessageTooLongError) Error() string {
	return messageOrDefault(e.msg, "message exceeds maximum frame size")
}

func (e MessageTooLongError) Unwrap() error { return diagerr.ErrInvalidArgument }

type MissingEscapeSequenceError struct {
	IsoTpError
}

func (e MissingEscapeSequenceError) Error() string {
	return messageOrDefault(e.msg, "missing escape sequence for single frame payload")
}

type OverflowError struct {
	IsoTpError
}

func (e OverflowError) Error() string {
	return messageOrDefault(e.msg, "remote node reported overflow")
}
