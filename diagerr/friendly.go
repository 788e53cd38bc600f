package diagerr

import "strings"

// FriendlyError renders a failure for a human operator with a hint on what
// to try next.
type FriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Err     error
}

func (e FriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	return buf.String()
}

func (e FriendlyError) Unwrap() error {
	return e.Err
}

// Explain wraps err with an operator hint chosen by its category.
func Explain(operation string, err error) error {
	if err == nil {
		return nil
	}
	return FriendlyError{
		Message: operation + " failed",
		Reason:  err.Error(),
		Hint:    Hint(err),
		Err:     err,
	}
}

// Hint returns a one-line suggestion for err, or "" when there is none.
func Hint(err error) string {
	switch Kind(err) {
	case ErrTransport:
		return "check the adapter is connected, the descriptor is right and the bus is terminated"
	case ErrTiming:
		return "the ECU did not answer in time; check ignition, CAN ids and bitrate"
	case ErrProtocol:
		return "the ECU answered something unexpected; check request and response ids do not collide with other nodes"
	case ErrNegativeResponse:
		return "the ECU rejected the request; a different session or security level may be required"
	case ErrSecurity:
		return "verify the security level and the secret configured for it; wait for any lockout to expire"
	case ErrTransfer:
		return "the transfer did not complete; restart it from the beginning, the ECU memory state is unknown"
	case ErrInvalidArgument:
		return "check the command arguments"
	}
	return ""
}
