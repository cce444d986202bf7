/*
Package asyncsockets is an asynchronous websocket client library: it
establishes a connection over a pluggable byte-stream transport, exposes
send/receive operations, and supports any number of independent live
subscriptions to incoming messages alongside direct receive callers.

The Socket type is a thin facade; all logic lives in the connection package
and its collaborators.
*/
package asyncsockets

import (
	"context"
	"time"

	"github.com/seanericksonpl12/AsyncSockets/connection"
	"github.com/seanericksonpl12/AsyncSockets/connection/subscription"
	"github.com/seanericksonpl12/AsyncSockets/connection/transporter"
	"github.com/seanericksonpl12/AsyncSockets/connection/transporter/websocket"
	"github.com/seanericksonpl12/AsyncSockets/logger"
	"github.com/seanericksonpl12/AsyncSockets/wire"
)

// Re-exported so most callers only import this package.
type (
	Config      = connection.Config
	State       = connection.State
	SocketEvent = connection.SocketEvent
	Message     = wire.Message
	CloseCode   = wire.CloseCode
)

const (
	StateConnecting   = connection.Connecting
	StateConnected    = connection.Connected
	StateMigrating    = connection.Migrating
	StateDisconnected = connection.Disconnected

	CloseNormalClosure    = wire.CloseNormalClosure
	CloseGoingAway        = wire.CloseGoingAway
	CloseNoStatusReceived = wire.CloseNoStatusReceived
)

const defaultHandshake = 10 * time.Second

// Socket is one logical websocket connection. Not reusable after terminal
// disconnection; construct a new Socket to reconnect.
type Socket struct {
	conn *connection.Conn
}

func defaultHandshakeTimeout(config *Config) time.Duration {
	if config != nil && config.HandshakeTimeout > 0 {
		return config.HandshakeTimeout
	}
	return defaultHandshake
}

// NewSocket builds a socket over the default websocket transport.
func NewSocket(logger *logger.Logger, rawUrl string, config *Config) (*Socket, error) {
	var insecure bool
	var handshakeTimeout = defaultHandshakeTimeout(config)
	if config != nil {
		insecure = config.AllowInsecureConnections
	}

	client := websocket.New(logger.GetComponentLogger("Websocket"), insecure, handshakeTimeout)
	return NewSocketWithTransport(logger, rawUrl, client, config)
}

// NewSocketWithTransport builds a socket over a caller-supplied transport.
func NewSocketWithTransport(logger *logger.Logger, rawUrl string, client transporter.Transporter, config *Config) (*Socket, error) {
	conn, err := connection.New(logger.GetComponentLogger("Conn"), rawUrl, client, config)
	if err != nil {
		return nil, err
	}
	return &Socket{conn: conn}, nil
}

func (s *Socket) Connect(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

func (s *Socket) Send(ctx context.Context, message Message) error {
	return s.conn.Send(ctx, message)
}

func (s *Socket) SendText(ctx context.Context, text string) error {
	return s.conn.SendText(ctx, text)
}

func (s *Socket) SendBinary(ctx context.Context, data []byte) error {
	return s.conn.SendBinary(ctx, data)
}

// Receive suspends until the next inbound application message is available
// to this call specifically. Concurrent callers never observe the same
// message; live subscriptions observe every message.
func (s *Socket) Receive(ctx context.Context) (Message, error) {
	return s.conn.Receive(ctx)
}

// ReceiveInto receives until a message decodes into out, silently skipping
// messages that fail to decode.
func (s *Socket) ReceiveInto(ctx context.Context, out any) error {
	return s.conn.ReceiveInto(ctx, out)
}

// Messages returns a live subscription to all subsequent inbound messages.
func (s *Socket) Messages() *subscription.Stream[Message] {
	return s.conn.Messages()
}

// Events returns a live subscription to connection lifecycle events.
func (s *Socket) Events() *subscription.Stream[SocketEvent] {
	return s.conn.Events()
}

func (s *Socket) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *Socket) Pong(ctx context.Context) error {
	return s.conn.Pong(ctx)
}

// Close sends the close handshake and tears down local state without
// waiting for the peer's acknowledgment.
func (s *Socket) Close(code CloseCode) {
	s.conn.Close(code)
}

// CloseWithContext sends the close handshake and waits for the transport to
// reach its terminal state.
func (s *Socket) CloseWithContext(ctx context.Context, code CloseCode) error {
	return s.conn.CloseWithContext(ctx, code)
}

// ForceClose skips the handshake and immediately cancels the transport.
func (s *Socket) ForceClose() {
	s.conn.ForceClose()
}

func (s *Socket) State() State {
	return s.conn.State()
}

func (s *Socket) CloseCode() CloseCode {
	return s.conn.CloseCode()
}

func (s *Socket) Done() <-chan struct{} {
	return s.conn.Done()
}

func (s *Socket) Err() error {
	return s.conn.Err()
}

// Messages is the typed counterpart of Socket.Messages: a subscription whose
// elements are JSON-decoded into T, skipping messages that fail to decode.
func Messages[T any](s *Socket) *subscription.Decoded[T] {
	return subscription.NewDecoded[T](s.conn.Messages())
}

// Receive is the typed counterpart of Socket.Receive.
func Receive[T any](ctx context.Context, s *Socket) (T, error) {
	var out T
	err := s.conn.ReceiveInto(ctx, &out)
	return out, err
}
