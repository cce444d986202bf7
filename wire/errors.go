package wire

import "fmt"

// The UnrecognizedOpcodeError is returned when a frame header declares an
// opcode outside the websocket opcode space. It means the peer sent garbage
// and the buffer cannot be resynchronized by waiting for more bytes.
type UnrecognizedOpcodeError struct {
	Opcode byte
}

func (e *UnrecognizedOpcodeError) Error() string {
	return fmt.Sprintf("unrecognized opcode 0x%x", e.Opcode)
}

func (e *UnrecognizedOpcodeError) Unwrap() error { return nil }

// The PayloadTooLargeError is returned when a frame declares a payload length
// that cannot be represented on this platform.
type PayloadTooLargeError struct {
	Length uint64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("declared payload length %d exceeds platform maximum", e.Length)
}

func (e *PayloadTooLargeError) Unwrap() error { return nil }
