/*
The websocket package establishes and ferries messages across the underlying
websocket connection. In terms of the overall connection layer architecture,
this package is at the lowest layer: it owns the HTTP upgrade and the framing
(both delegated to gorilla), and hands fully reassembled payloads up to the
connection for it to dispatch. Control frames (ping, pong, close) are
surfaced through the same inbound channel as data so the connection sees
every opcode in wire order.
*/
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"github.com/seanericksonpl12/AsyncSockets/logger"
	"github.com/seanericksonpl12/AsyncSockets/connection/transporter"
	"github.com/seanericksonpl12/AsyncSockets/wire"
)

const (
	HttpsOnlyWebsocketScheme = "wss"
	HttpWebsocketScheme      = "ws"

	writeTimeout = 10 * time.Second
)

type Websocket struct {
	tmb    tomb.Tomb
	logger *logger.Logger
	client *gorilla.Conn

	// Gorilla connections support only one concurrent writer
	sendLock sync.Mutex

	// Downgrade to ws:// instead of wss://
	allowInsecure bool

	// Received payloads, tagged with their opcode
	inbound chan *wire.Inbound

	// Never signalled by this transport; gorilla has no path monitoring
	betterPath chan struct{}

	handshakeTimeout time.Duration
}

func New(logger *logger.Logger, allowInsecure bool, handshakeTimeout time.Duration) transporter.Transporter {
	return &Websocket{
		logger:           logger,
		allowInsecure:    allowInsecure,
		inbound:          make(chan *wire.Inbound, 200),
		betterPath:       make(chan struct{}, 1),
		handshakeTimeout: handshakeTimeout,
	}
}

func (w *Websocket) Close(reason error) {
	if w.tmb.Alive() {
		w.logger.Infof("Websocket connection closing because: %s", reason)

		// close the websocket connection; this unblocks the pending ReadMessage
		w.client.Close()

		w.tmb.Kill(reason)
		w.tmb.Wait()
	} else {
		w.logger.Infof("Close was called while in a dying state")
	}
}

func (w *Websocket) Done() <-chan struct{} {
	return w.tmb.Dead()
}

func (w *Websocket) Err() error {
	return w.tmb.Err()
}

func (w *Websocket) Inbound() <-chan *wire.Inbound {
	return w.inbound
}

func (w *Websocket) BetterPath() <-chan struct{} {
	return w.betterPath
}

func (w *Websocket) Send(opcode wire.Opcode, payload []byte) error {
	if w.client == nil {
		return fmt.Errorf("cannot send message because websocket is closed")
	}

	// Frames from concurrent senders must not interleave on the wire
	w.sendLock.Lock()
	defer w.sendLock.Unlock()

	deadline := time.Now().Add(writeTimeout)
	switch opcode {
	case wire.OpcodeText:
		return w.client.WriteMessage(gorilla.TextMessage, payload)
	case wire.OpcodeBinary:
		return w.client.WriteMessage(gorilla.BinaryMessage, payload)
	case wire.OpcodePing:
		return w.client.WriteControl(gorilla.PingMessage, payload, deadline)
	case wire.OpcodePong:
		return w.client.WriteControl(gorilla.PongMessage, payload, deadline)
	case wire.OpcodeClose:
		return w.client.WriteControl(gorilla.CloseMessage, payload, deadline)
	default:
		return fmt.Errorf("cannot send unsupported opcode %s", opcode)
	}
}

func (w *Websocket) Dial(connUrl *url.URL, headers http.Header, ctx context.Context) (err error) {
	// Make sure url scheme is correct
	if w.allowInsecure {
		connUrl.Scheme = HttpWebsocketScheme
	} else {
		connUrl.Scheme = HttpsOnlyWebsocketScheme
	}

	dialer := *gorilla.DefaultDialer
	if w.handshakeTimeout > 0 {
		dialer.HandshakeTimeout = w.handshakeTimeout
	}

	// Try to connect websocket once
	if w.client, _, err = dialer.DialContext(ctx, connUrl.String(), headers); err != nil {
		return fmt.Errorf("error dialing websocket: %w", err)
	}

	// Gorilla intercepts control frames in ReadMessage, so we forward them
	// into the inbound channel ourselves to keep the connection's opcode
	// dispatch complete. The default ping handler would auto-reply; replying
	// is the connection's decision, not ours.
	w.client.SetPingHandler(func(appData string) error {
		w.deliver(wire.OpcodePing, []byte(appData))
		return nil
	})
	w.client.SetPongHandler(func(appData string) error {
		w.deliver(wire.OpcodePong, []byte(appData))
		return nil
	})
	w.client.SetCloseHandler(func(code int, text string) error {
		w.deliver(wire.OpcodeClose, wire.EncodeClosePayload(wire.CloseCode(code), text))
		return nil
	})

	// Reinitialize our variables in case this is post death
	w.tmb = tomb.Tomb{}

	w.tmb.Go(w.receive)

	return nil
}

func (w *Websocket) receive() error {
	defer w.logger.Infof("Websocket connection closed")
	w.logger.Infof("Websocket connection started")

	for {
		// Read incoming message; gorilla reassembles fragmented messages so
		// every payload we see here is complete
		if messageType, rawMessage, err := w.client.ReadMessage(); !w.tmb.Alive() {
			return nil
		} else if err != nil {
			// Check if it's a clean exit
			if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				w.logger.Error(err)
			} else {
				w.logger.Info("Websocket connection closed normally")
			}
			return err
		} else {
			switch messageType {
			case gorilla.TextMessage:
				w.deliver(wire.OpcodeText, rawMessage)
			case gorilla.BinaryMessage:
				w.deliver(wire.OpcodeBinary, rawMessage)
			}
		}
	}
}

func (w *Websocket) deliver(opcode wire.Opcode, payload []byte) {
	select {
	case w.inbound <- &wire.Inbound{Opcode: opcode, Payload: payload}:
	case <-w.tmb.Dying():
	}
}
