package wire

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWire(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Wire Suite")
}

var _ = Describe("Frame codec", func() {
	// Sizes straddling every length-field boundary
	boundarySizes := []int{0, 1, 125, 126, 65535, 65536}

	payloadOfSize := func(size int) []byte {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i % 251)
		}
		return payload
	}

	Context("Roundtripping", func() {
		for _, masked := range []bool{true, false} {
			masked := masked
			for _, size := range boundarySizes {
				size := size

				When(fmt.Sprintf("serializing a %d byte payload (masked=%v)", size, masked), func() {
					var frame *Frame
					var consumed int
					var err error
					var payload []byte

					BeforeEach(func() {
						payload = payloadOfSize(size)
						raw := Serialize(true, OpcodeBinary, payload, masked)
						frame, consumed, err = Parse(raw)
					})

					It("parses back to the same frame", func() {
						Expect(err).ShouldNot(HaveOccurred())
						Expect(frame).ToNot(BeNil(), "parser treated a complete frame as incomplete")
						Expect(frame.Fin).To(BeTrue())
						Expect(frame.Opcode).To(Equal(OpcodeBinary))
						Expect(frame.Masked).To(Equal(masked))
						Expect(frame.Payload).To(HaveLen(size))
						Expect(bytes.Equal(frame.Payload, payload)).To(BeTrue(), "payload did not survive the roundtrip")
					})

					It("consumes exactly the serialized bytes", func() {
						headerLen := 2
						if size > 65535 {
							headerLen += 8
						} else if size > 125 {
							headerLen += 2
						}
						if masked {
							headerLen += 4
						}
						Expect(consumed).To(Equal(headerLen + size))
					})
				})
			}
		}

		When("serializing a text control payload", func() {
			It("routes ping frames through the general path", func() {
				raw := Serialize(true, OpcodePing, []byte("beat"), true)
				frame, _, err := Parse(raw)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(frame.Opcode).To(Equal(OpcodePing))
				Expect(string(frame.Payload)).To(Equal("beat"))
			})
		})
	})

	Context("Length field routing", func() {
		It("uses the 7-bit field up to 125 bytes", func() {
			raw := Serialize(true, OpcodeBinary, payloadOfSize(125), false)
			Expect(raw[1] & 0x7F).To(Equal(byte(125)))
		})

		It("uses the 16-bit field from 126 bytes", func() {
			raw := Serialize(true, OpcodeBinary, payloadOfSize(126), false)
			Expect(raw[1] & 0x7F).To(Equal(byte(126)))
		})

		It("uses the 16-bit field up to 65535 bytes", func() {
			raw := Serialize(true, OpcodeBinary, payloadOfSize(65535), false)
			Expect(raw[1] & 0x7F).To(Equal(byte(126)))
		})

		It("uses the 64-bit field from 65536 bytes", func() {
			raw := Serialize(true, OpcodeBinary, payloadOfSize(65536), false)
			Expect(raw[1] & 0x7F).To(Equal(byte(127)))
		})
	})

	Context("Parsing malformed input", func() {
		When("the buffer has fewer than two header bytes", func() {
			It("fails soft", func() {
				frame, consumed, err := Parse([]byte{0x81})
				Expect(err).ShouldNot(HaveOccurred())
				Expect(frame).To(BeNil())
				Expect(consumed).To(Equal(0))
			})
		})

		When("the extended length field is truncated", func() {
			It("fails soft", func() {
				// Declares a 16-bit length but provides only one of its bytes
				frame, _, err := Parse([]byte{0x82, 126, 0x01})
				Expect(err).ShouldNot(HaveOccurred())
				Expect(frame).To(BeNil())
			})
		})

		When("the declared length exceeds the available data", func() {
			It("fails soft rather than returning a partial frame", func() {
				raw := Serialize(true, OpcodeBinary, payloadOfSize(500), false)
				frame, _, err := Parse(raw[:100])
				Expect(err).ShouldNot(HaveOccurred())
				Expect(frame).To(BeNil())
			})
		})

		When("the mask bit is set but the key is truncated", func() {
			It("fails soft", func() {
				frame, _, err := Parse([]byte{0x82, 0x81, 0xAA, 0xBB})
				Expect(err).ShouldNot(HaveOccurred())
				Expect(frame).To(BeNil())
			})
		})

		When("the declared length cannot be represented in memory", func() {
			It("fails hard instead of truncating", func() {
				// 64-bit length field declaring the maximum possible payload
				raw := []byte{0x82, 127, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
				_, _, err := Parse(raw)
				var tooLarge *PayloadTooLargeError
				Expect(err).To(HaveOccurred())
				Expect(errors.As(err, &tooLarge)).To(BeTrue())
			})
		})

		When("the opcode is unrecognized", func() {
			It("fails hard", func() {
				_, _, err := Parse([]byte{0x83, 0x00})
				var opcodeErr *UnrecognizedOpcodeError
				Expect(err).To(HaveOccurred())
				Expect(errors.As(err, &opcodeErr)).To(BeTrue())
			})
		})
	})

	Context("Close payloads", func() {
		It("roundtrips code and reason", func() {
			payload := EncodeClosePayload(CloseGoingAway, "shutting down")
			code, reason := DecodeClosePayload(payload)
			Expect(code).To(Equal(CloseGoingAway))
			Expect(reason).To(Equal("shutting down"))
		})

		It("treats an empty payload as no status received", func() {
			code, reason := DecodeClosePayload(nil)
			Expect(code).To(Equal(CloseNoStatusReceived))
			Expect(reason).To(Equal(""))
		})
	})
})
