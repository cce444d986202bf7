/*
The rawsocket package is a transporter built directly on a tcp (or tls)
stream: it performs the HTTP upgrade handshake itself and runs the wire codec
over the raw bytes. It exists for transports where gorilla's dialer cannot be
used and doubles as the end-to-end exercise of the framing layer. Fragmented
messages are reassembled here, so the connection above only ever sees
complete payloads.
*/
package rawsocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/seanericksonpl12/AsyncSockets/logger"
	"github.com/seanericksonpl12/AsyncSockets/connection/transporter"
	"github.com/seanericksonpl12/AsyncSockets/wire"
)

// Fixed GUID from RFC 6455 section 1.3, used to compute Sec-WebSocket-Accept
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const readBufferSize = 32 * 1024

type RawSocket struct {
	tmb    tomb.Tomb
	logger *logger.Logger

	conn     net.Conn
	sendLock sync.Mutex

	// Disables tls
	allowInsecure bool

	inbound    chan *wire.Inbound
	betterPath chan struct{}

	handshakeTimeout time.Duration
}

func New(logger *logger.Logger, allowInsecure bool, handshakeTimeout time.Duration) transporter.Transporter {
	return &RawSocket{
		logger:           logger,
		allowInsecure:    allowInsecure,
		inbound:          make(chan *wire.Inbound, 200),
		betterPath:       make(chan struct{}, 1),
		handshakeTimeout: handshakeTimeout,
	}
}

func (r *RawSocket) Done() <-chan struct{} {
	return r.tmb.Dead()
}

func (r *RawSocket) Err() error {
	return r.tmb.Err()
}

func (r *RawSocket) Inbound() <-chan *wire.Inbound {
	return r.inbound
}

func (r *RawSocket) BetterPath() <-chan struct{} {
	return r.betterPath
}

func (r *RawSocket) Close(reason error) {
	if r.tmb.Alive() {
		r.logger.Infof("Raw socket connection closing because: %s", reason)

		r.conn.Close()

		r.tmb.Kill(reason)
		r.tmb.Wait()
	} else {
		r.logger.Infof("Close was called while in a dying state")
	}
}

// Send serializes one frame. Client frames are always masked per RFC 6455.
func (r *RawSocket) Send(opcode wire.Opcode, payload []byte) error {
	if r.conn == nil {
		return fmt.Errorf("cannot send message because socket is closed")
	}

	frame := wire.Serialize(true, opcode, payload, true)

	// Frames from concurrent senders must not interleave on the wire
	r.sendLock.Lock()
	defer r.sendLock.Unlock()

	_, err := r.conn.Write(frame)
	return err
}

func (r *RawSocket) Dial(connUrl *url.URL, headers http.Header, ctx context.Context) error {
	host := connUrl.Host
	if connUrl.Port() == "" {
		if r.allowInsecure {
			host = net.JoinHostPort(host, "80")
		} else {
			host = net.JoinHostPort(host, "443")
		}
	}

	dialer := &net.Dialer{Timeout: r.handshakeTimeout}

	var conn net.Conn
	var err error
	if r.allowInsecure {
		conn, err = dialer.DialContext(ctx, "tcp", host)
	} else {
		tlsDialer := &tls.Dialer{NetDialer: dialer}
		conn, err = tlsDialer.DialContext(ctx, "tcp", host)
	}
	if err != nil {
		return fmt.Errorf("error dialing %s: %w", host, err)
	}

	reader := bufio.NewReaderSize(conn, readBufferSize)
	if err := r.upgrade(conn, reader, connUrl, headers); err != nil {
		conn.Close()
		return err
	}

	r.conn = conn

	// Reinitialize our variables in case this is post death
	r.tmb = tomb.Tomb{}

	r.tmb.Go(func() error { return r.receive(reader) })

	return nil
}

// upgrade performs the client side of the HTTP upgrade handshake and verifies
// the Sec-WebSocket-Accept echo.
func (r *RawSocket) upgrade(conn net.Conn, reader *bufio.Reader, connUrl *url.URL, headers http.Header) error {
	nonce := make([]byte, 16)
	rand.Read(nonce)
	challengeKey := base64.StdEncoding.EncodeToString(nonce)

	requestPath := connUrl.RequestURI()
	if requestPath == "" {
		requestPath = "/"
	}

	request := fmt.Sprintf("GET %s HTTP/1.1\r\n", requestPath)
	request += fmt.Sprintf("Host: %s\r\n", connUrl.Host)
	request += "Upgrade: websocket\r\n"
	request += "Connection: Upgrade\r\n"
	request += fmt.Sprintf("Sec-WebSocket-Key: %s\r\n", challengeKey)
	request += "Sec-WebSocket-Version: 13\r\n"
	for key, values := range headers {
		for _, value := range values {
			request += fmt.Sprintf("%s: %s\r\n", key, value)
		}
	}
	request += "\r\n"

	if r.handshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(r.handshakeTimeout))
		defer conn.SetDeadline(time.Time{})
	}

	if _, err := conn.Write([]byte(request)); err != nil {
		return fmt.Errorf("failed to write upgrade request: %w", err)
	}

	response, err := http.ReadResponse(reader, nil)
	if err != nil {
		return fmt.Errorf("failed to read upgrade response: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("server refused websocket upgrade with status %s", response.Status)
	}

	expected := computeAcceptKey(challengeKey)
	if accept := response.Header.Get("Sec-WebSocket-Accept"); accept != expected {
		return fmt.Errorf("server returned bad Sec-WebSocket-Accept: got %s expected %s", accept, expected)
	}

	return nil
}

func computeAcceptKey(challengeKey string) string {
	hash := sha1.Sum([]byte(challengeKey + websocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

func (r *RawSocket) receive(reader *bufio.Reader) error {
	defer r.logger.Infof("Raw socket connection closed")
	r.logger.Infof("Raw socket connection started")

	// Reassembly state for fragmented messages
	var fragmentOpcode wire.Opcode
	var fragments []byte
	assembling := false

	buffer := make([]byte, 0, readBufferSize)
	chunk := make([]byte, readBufferSize)

	for {
		// Drain every complete frame currently buffered before reading more
		for {
			frame, consumed, err := wire.Parse(buffer)
			if err != nil {
				return err
			}
			if frame == nil {
				break
			}
			buffer = buffer[consumed:]

			if frame.Opcode.IsControl() {
				// Control frames may arrive between fragments
				r.deliver(frame.Opcode, frame.Payload)
				continue
			}

			if frame.Opcode == wire.OpcodeContinuation {
				if !assembling {
					return fmt.Errorf("received continuation frame with no message in progress")
				}
				fragments = append(fragments, frame.Payload...)
			} else {
				if assembling {
					return fmt.Errorf("received %s frame while reassembling a fragmented message", frame.Opcode)
				}
				fragmentOpcode = frame.Opcode
				fragments = frame.Payload
				assembling = true
			}

			if frame.Fin {
				r.deliver(fragmentOpcode, fragments)
				fragments = nil
				assembling = false
			}
		}

		n, err := reader.Read(chunk)
		if !r.tmb.Alive() {
			return nil
		} else if err != nil {
			r.logger.Error(err)
			return err
		}
		buffer = append(buffer, chunk[:n]...)
	}
}

func (r *RawSocket) deliver(opcode wire.Opcode, payload []byte) {
	select {
	case r.inbound <- &wire.Inbound{Opcode: opcode, Payload: payload}:
	case <-r.tmb.Dying():
	}
}
