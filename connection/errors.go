package connection

import (
	"errors"
	"fmt"
	"syscall"
)

// The InvalidConnectionAccessError is used when Connect is called while a
// connect is already outstanding or has already completed. It should be
// treated as API misuse, not a network failure.
type InvalidConnectionAccessError struct {
	Reason string
}

func (e *InvalidConnectionAccessError) Error() string {
	return fmt.Sprintf("invalid connection access: %s", e.Reason)
}

func (e *InvalidConnectionAccessError) Unwrap() error { return nil }

// The SocketNotConnectedError is used when an operation that requires a live
// connection is attempted outside the connected state.
type SocketNotConnectedError struct{}

func (e *SocketNotConnectedError) Error() string { return "socket is not connected" }

func (e *SocketNotConnectedError) Unwrap() error { return nil }

// The ConnectionNotReadyError is used when the transport reports a state in
// which it can neither send nor receive yet.
type ConnectionNotReadyError struct{}

func (e *ConnectionNotReadyError) Error() string { return "connection is not ready" }

func (e *ConnectionNotReadyError) Unwrap() error { return nil }

// The ConnectFailedError wraps whatever prevented the transport from reaching
// its ready state.
type ConnectFailedError struct {
	Err error
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("failed to connect: %s", e.Err)
}

func (e *ConnectFailedError) Unwrap() error { return e.Err }

// The DisconnectFailedError is used when a graceful close could not complete.
type DisconnectFailedError struct {
	Err error
}

func (e *DisconnectFailedError) Error() string {
	return fmt.Sprintf("failed to disconnect cleanly: %s", e.Err)
}

func (e *DisconnectFailedError) Unwrap() error { return e.Err }

// The EncodeFailedError is used when an outbound payload could not be encoded.
type EncodeFailedError struct {
	Err error
}

func (e *EncodeFailedError) Error() string {
	return fmt.Sprintf("failed to encode message: %s", e.Err)
}

func (e *EncodeFailedError) Unwrap() error { return e.Err }

// The DecodeFailedError is used when an inbound payload could not be decoded
// into the requested type.
type DecodeFailedError struct {
	Err error
}

func (e *DecodeFailedError) Error() string {
	return fmt.Sprintf("failed to decode message: %s", e.Err)
}

func (e *DecodeFailedError) Unwrap() error { return e.Err }

// The BadDataFormatError is used when an inbound frame is present but carries
// no recognizable metadata, e.g. a bare continuation opcode when the transport
// promises full reassembly.
type BadDataFormatError struct {
	Reason string
}

func (e *BadDataFormatError) Error() string {
	return fmt.Sprintf("bad data format: %s", e.Reason)
}

func (e *BadDataFormatError) Unwrap() error { return nil }

// The InvalidHeartbeatIntervalError is used when a heartbeat interval below
// one second is configured. Surfaced at connect time.
type InvalidHeartbeatIntervalError struct {
	Interval string
}

func (e *InvalidHeartbeatIntervalError) Error() string {
	return fmt.Sprintf("heartbeat interval %s is invalid: must be at least one second", e.Interval)
}

func (e *InvalidHeartbeatIntervalError) Unwrap() error { return nil }

// The CancelledError resolves every pending operation when the connection is
// torn down underneath it.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("operation cancelled: %s", e.Reason)
}

func (e *CancelledError) Unwrap() error { return nil }

// The TransportError wraps an error reported by the underlying transport so
// callers can distinguish network failures from API misuse.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// isFatalTransportError decides whether a transport-reported error should
// force an internal close with a going-away code. This is a best-effort
// heuristic over the connection-reset class of posix errors; unrecognized
// errors are surfaced to the caller without forcing teardown.
func isFatalTransportError(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENETDOWN) ||
		errors.Is(err, syscall.ENOTCONN)
}
