package rawsocket

import (
	"context"
	"net/url"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/seanericksonpl12/AsyncSockets/connection/transporter/websocket"
	"github.com/seanericksonpl12/AsyncSockets/logger"
	"github.com/seanericksonpl12/AsyncSockets/wire"
)

func TestRawSocket(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RawSocket Suite")
}

var _ = Describe("RawSocket", func() {
	ctx := context.Background()
	testLogger := logger.MockLogger(GinkgoWriter)

	dialServer := func(server *websocket.MockWebsocketServer) *RawSocket {
		connUrl, err := url.Parse(server.Addr)
		Expect(err).ShouldNot(HaveOccurred())

		rawSocket := New(testLogger, true, time.Second).(*RawSocket)
		Expect(rawSocket.Dial(connUrl, nil, ctx)).To(Succeed())
		return rawSocket
	}

	Context("Upgrading", func() {
		When("a server is listening", func() {
			It("completes the handshake", func() {
				server := websocket.NewMockWebsocketServer(testLogger)
				defer server.Shutdown()

				rawSocket := dialServer(server)
				rawSocket.Close(nil)
			})
		})

		When("nothing is listening", func() {
			It("returns a dial error", func() {
				server := websocket.NewMockWebsocketServer(testLogger)
				server.Shutdown()

				connUrl, err := url.Parse(server.Addr)
				Expect(err).ShouldNot(HaveOccurred())

				rawSocket := New(testLogger, true, time.Second).(*RawSocket)
				Expect(rawSocket.Dial(connUrl, nil, ctx)).ShouldNot(Succeed())
			})
		})
	})

	Context("Framing over the raw stream", func() {
		When("we send masked text", func() {
			It("is accepted by the server and the echo parses back", func() {
				server := websocket.NewMockWebsocketServer(testLogger)
				defer server.Shutdown()

				rawSocket := dialServer(server)
				defer rawSocket.Close(nil)

				Expect(rawSocket.Send(wire.OpcodeText, []byte("framed by hand"))).To(Succeed())

				Eventually(server.ReceivedBytes).Should(Receive(Equal([]byte("framed by hand"))))

				var inbound *wire.Inbound
				Eventually(rawSocket.Inbound(), 2*time.Second).Should(Receive(&inbound))
				Expect(inbound.Opcode).To(Equal(wire.OpcodeText))
				Expect(inbound.Payload).To(Equal([]byte("framed by hand")))
			})
		})

		When("we send binary", func() {
			It("round-trips with the opcode preserved", func() {
				server := websocket.NewMockWebsocketServer(testLogger)
				defer server.Shutdown()

				rawSocket := dialServer(server)
				defer rawSocket.Close(nil)

				payload := []byte{0x01, 0x00, 0xff}
				Expect(rawSocket.Send(wire.OpcodeBinary, payload)).To(Succeed())

				var inbound *wire.Inbound
				Eventually(rawSocket.Inbound(), 2*time.Second).Should(Receive(&inbound))
				Expect(inbound.Opcode).To(Equal(wire.OpcodeBinary))
				Expect(inbound.Payload).To(Equal(payload))
			})
		})

		When("we ping a responsive server", func() {
			It("parses the answering pong off the stream", func() {
				server := websocket.NewMockWebsocketServer(testLogger)
				defer server.Shutdown()

				rawSocket := dialServer(server)
				defer rawSocket.Close(nil)

				Expect(rawSocket.Send(wire.OpcodePing, []byte("beat"))).To(Succeed())

				var inbound *wire.Inbound
				Eventually(rawSocket.Inbound(), 2*time.Second).Should(Receive(&inbound))
				Expect(inbound.Opcode).To(Equal(wire.OpcodePong))
				Expect(inbound.Payload).To(Equal([]byte("beat")))
			})
		})

		When("the server starts the close handshake", func() {
			It("surfaces the close frame with its status code", func() {
				server := websocket.NewMockWebsocketServer(testLogger)
				defer server.Shutdown()

				rawSocket := dialServer(server)
				defer rawSocket.Close(nil)

				// Make sure the server side has picked up the connection first
				Expect(rawSocket.Send(wire.OpcodeText, []byte("warmup"))).To(Succeed())
				Eventually(server.ReceivedBytes).Should(Receive())
				Eventually(rawSocket.Inbound(), 2*time.Second).Should(Receive())

				server.Close(int(wire.CloseGoingAway))

				var inbound *wire.Inbound
				Eventually(rawSocket.Inbound(), 2*time.Second).Should(Receive(&inbound))
				Expect(inbound.Opcode).To(Equal(wire.OpcodeClose))

				code, _ := wire.DecodeClosePayload(inbound.Payload)
				Expect(code).To(Equal(wire.CloseGoingAway))
			})
		})
	})

	Context("Closing", func() {
		When("the server drops the tcp connection", func() {
			It("dies with a read error", func() {
				server := websocket.NewMockWebsocketServer(testLogger)
				defer server.Shutdown()

				rawSocket := dialServer(server)

				// Picks up the server-side conn so ForceClose has one to drop
				Expect(rawSocket.Send(wire.OpcodeText, []byte("warmup"))).To(Succeed())
				Eventually(server.ReceivedBytes).Should(Receive())

				server.ForceClose()

				Eventually(rawSocket.Done(), 2*time.Second).Should(BeClosed())
				Expect(rawSocket.Err()).To(HaveOccurred())
			})
		})
	})
})
