package wire

import (
	"encoding/binary"
	"fmt"
)

// Message is a complete logical text or binary payload, possibly reassembled
// from multiple frames by the transport. Immutable once constructed.
type Message struct {
	typ  Opcode
	data []byte
}

func NewTextMessage(text string) Message {
	return Message{typ: OpcodeText, data: []byte(text)}
}

func NewBinaryMessage(data []byte) Message {
	return Message{typ: OpcodeBinary, data: data}
}

func (m Message) IsText() bool {
	return m.typ == OpcodeText
}

func (m Message) Data() []byte {
	return m.data
}

func (m Message) Text() string {
	return string(m.data)
}

func (m Message) String() string {
	if m.IsText() {
		return m.Text()
	}
	return fmt.Sprintf("binary(%d bytes)", len(m.data))
}

// Inbound is one received unit as the transport hands it up: a fully
// reassembled payload tagged with its opcode.
type Inbound struct {
	Opcode  Opcode
	Payload []byte
}

// CloseCode is the protocol-level status code from a close handshake.
type CloseCode uint16

const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolError           CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseNoStatusReceived        CloseCode = 1005
	CloseAbnormalClosure         CloseCode = 1006
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseInternalServerErr       CloseCode = 1011
)

// EncodeClosePayload builds a close frame payload: two status bytes followed
// by an optional UTF-8 reason.
func EncodeClosePayload(code CloseCode, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	return payload
}

// DecodeClosePayload extracts the status code and reason from a close frame
// payload. An empty payload is legal and means no status was received.
func DecodeClosePayload(payload []byte) (CloseCode, string) {
	if len(payload) < 2 {
		return CloseNoStatusReceived, ""
	}
	return CloseCode(binary.BigEndian.Uint16(payload)), string(payload[2:])
}
