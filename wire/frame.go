/*
The wire package implements the websocket framing layer: bit-exact translation
between raw bytes and logical frames, plus the message and close-code types the
rest of the connection layer trades in. It is pure and holds no state, so it is
safe to call from any goroutine.
*/
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	finBit  = 0x80
	maskBit = 0x80

	// Payload lengths at which the 16 and 64 bit extended length fields kick in
	shortPayloadMax    = 125
	extendedPayloadMax = math.MaxUint16
)

type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

func (o Opcode) Valid() bool {
	switch o {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

func (o Opcode) IsControl() bool {
	return o == OpcodeClose || o == OpcodePing || o == OpcodePong
}

func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%x)", byte(o))
	}
}

// Frame is one wire-level websocket unit.
type Frame struct {
	Fin        bool
	Opcode     Opcode
	Masked     bool
	MaskingKey [4]byte
	Payload    []byte
}

// Parse decodes a single frame from raw. It fails soft on incomplete input:
// if raw holds fewer bytes than the frame declares, it returns (nil, 0, nil)
// so the caller can retry with more data. A malformed header is a hard error.
// On success the returned payload is already unmasked, and the second return
// value is the number of bytes consumed.
func Parse(raw []byte) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, nil
	}

	fin := raw[0]&finBit != 0
	opcode := Opcode(raw[0] & 0x0F)
	masked := raw[1]&maskBit != 0
	length := uint64(raw[1] & 0x7F)
	offset := 2

	if !opcode.Valid() {
		return nil, 0, &UnrecognizedOpcodeError{Opcode: byte(opcode)}
	}

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, nil
		}
		length = binary.BigEndian.Uint64(raw[offset:])
		offset += 8
	}

	// The declared length must fit in a platform int together with the
	// header and masking key, or the int conversions below would truncate
	if length > uint64(math.MaxInt-offset-4) {
		return nil, 0, &PayloadTooLargeError{Length: length}
	}

	var maskingKey [4]byte
	if masked {
		if len(raw) < offset+4 {
			return nil, 0, nil
		}
		copy(maskingKey[:], raw[offset:offset+4])
		offset += 4
	}

	total := offset + int(length)
	if len(raw) < total {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, raw[offset:total])
	if masked {
		mask(payload, maskingKey)
	}

	return &Frame{
		Fin:        fin,
		Opcode:     opcode,
		Masked:     masked,
		MaskingKey: maskingKey,
		Payload:    payload,
	}, total, nil
}

// Serialize encodes a frame. When masked, a fresh random masking key is
// generated and the payload bytes are written XOR-masked; the input slice is
// never modified.
func Serialize(fin bool, opcode Opcode, payload []byte, masked bool) []byte {
	headerLen := 2
	switch {
	case len(payload) > extendedPayloadMax:
		headerLen += 8
	case len(payload) > shortPayloadMax:
		headerLen += 2
	}
	if masked {
		headerLen += 4
	}

	out := make([]byte, headerLen+len(payload))

	out[0] = byte(opcode)
	if fin {
		out[0] |= finBit
	}

	offset := 2
	switch {
	case len(payload) > extendedPayloadMax:
		out[1] = 127
		binary.BigEndian.PutUint64(out[offset:], uint64(len(payload)))
		offset += 8
	case len(payload) > shortPayloadMax:
		out[1] = 126
		binary.BigEndian.PutUint16(out[offset:], uint16(len(payload)))
		offset += 2
	default:
		out[1] = byte(len(payload))
	}

	if masked {
		out[1] |= maskBit

		var maskingKey [4]byte
		rand.Read(maskingKey[:])
		copy(out[offset:], maskingKey[:])
		offset += 4

		copy(out[offset:], payload)
		mask(out[offset:], maskingKey)
	} else {
		copy(out[offset:], payload)
	}

	return out
}

// Masking and unmasking are the same operation.
func mask(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}
