/*
The connection package owns the entire lifecycle and data plane of one
logical websocket connection: it drives the transport through connect and
close, routes every inbound payload to its opcode handler, completes waiting
receive callers oldest-first while republishing each message to every live
subscription, and feeds the heartbeat. A Conn is created once per logical
socket and is not reusable after terminal disconnection; construct a new one
to reconnect.
*/
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"gopkg.in/tomb.v2"

	"github.com/seanericksonpl12/AsyncSockets/connection/broker"
	"github.com/seanericksonpl12/AsyncSockets/connection/heartbeat"
	"github.com/seanericksonpl12/AsyncSockets/connection/pending"
	"github.com/seanericksonpl12/AsyncSockets/connection/subscription"
	"github.com/seanericksonpl12/AsyncSockets/connection/transporter"
	"github.com/seanericksonpl12/AsyncSockets/logger"
	"github.com/seanericksonpl12/AsyncSockets/wire"
)

// Cap between dial retries within one Connect call
const maxDialInterval = 5 * time.Second

type Conn struct {
	tmb    tomb.Tomb
	logger *logger.Logger

	// This is our underlying transport where we send and receive payloads
	client transporter.Transporter

	config  Config
	connUrl *url.URL

	// Guards state, closeCode and the connect/run flags. Transport callbacks
	// land on arbitrary goroutines, so nothing here is read without it.
	lock          sync.Mutex
	state         State
	closeCode     wire.CloseCode
	connectCalled bool
	dialed        bool
	running       bool

	// Waiting Receive callers, resolved oldest-first
	receives *pending.Registry[wire.Message]

	// Fan-out of every inbound application message to live subscriptions
	messages *broker.Broker[wire.Message]

	// Fan-out of lifecycle events
	events *broker.Broker[SocketEvent]

	beats *heartbeat.Manager

	// Live subscription streams, ended exactly once at teardown
	streamsLock  sync.Mutex
	streamEnders []func(error)
	torndown     bool

	// At most one close frame ever hits the wire
	closeHandshake sync.Once

	teardownOnce sync.Once
}

func New(logger *logger.Logger, rawUrl string, client transporter.Transporter, config *Config) (*Conn, error) {
	connUrl, err := url.ParseRequestURI(rawUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection url %s: %w", rawUrl, err)
	}

	if config == nil {
		config = &Config{}
	}
	if len(config.Params) > 0 {
		connUrl.RawQuery = config.Params.Encode()
	}

	conn := &Conn{
		logger:    logger,
		client:    client,
		config:    *config,
		connUrl:   connUrl,
		state:     Idle,
		closeCode: wire.CloseNoStatusReceived,
		receives:  pending.NewRegistry[wire.Message](),
		messages:  broker.New[wire.Message](),
		events:    broker.New[SocketEvent](),
	}
	conn.beats = heartbeat.New(logger.GetComponentLogger("Heartbeat"), &heartbeatDelegate{conn: conn})

	return conn, nil
}

// Connect dials the transport and starts the connection's processing loops.
// Valid exactly once: concurrent or repeated calls fail with an invalid
// access error rather than queueing. The dial is retried with exponential
// backoff until ctx is cancelled or the configured connect budget runs out.
func (c *Conn) Connect(ctx context.Context) error {
	c.lock.Lock()
	if c.connectCalled || c.state == Disconnected {
		c.lock.Unlock()
		return &InvalidConnectionAccessError{Reason: "connect was already called on this connection"}
	}
	if c.config.HeartbeatInterval != 0 && c.config.HeartbeatInterval < MinHeartbeatInterval {
		c.lock.Unlock()
		return &InvalidHeartbeatIntervalError{Interval: c.config.HeartbeatInterval.String()}
	}
	c.connectCalled = true
	c.state = Connecting
	c.lock.Unlock()

	c.events.Publish(SocketEvent{Kind: EventStateChanged, State: Connecting})

	// Tie the dial in with our tomb so a close during connect stops the
	// retry loop
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-c.tmb.Dying():
			cancel()
		}
	}()

	// Setup our exponential backoff parameters
	backoffParams := backoff.NewExponentialBackOff()
	backoffParams.MaxElapsedTime = c.config.maxConnectTime()
	backoffParams.MaxInterval = maxDialInterval

	dial := func() error {
		return c.client.Dial(c.connUrl, c.config.Headers, ctx)
	}
	if err := backoff.Retry(dial, backoff.WithContext(backoffParams, ctx)); err != nil {
		rerr := &ConnectFailedError{Err: err}
		c.teardown(rerr)
		c.tmb.Kill(rerr)
		return rerr
	}

	c.lock.Lock()
	c.dialed = true
	if !c.tmb.Alive() {
		// A close landed between the dial succeeding and here, possibly
		// tearing down before dialed was set; the tomb is already dead so
		// the main loop must never start
		c.lock.Unlock()
		rerr := &ConnectFailedError{Err: fmt.Errorf("connection was closed while connecting")}
		c.client.Close(rerr)
		c.teardown(rerr)
		return rerr
	}
	c.state = Connected
	c.running = true
	// Tracked under the same lock close() kills under, so the tomb always
	// has its goroutine before a kill can land
	c.tmb.Go(c.run)
	c.lock.Unlock()

	c.events.Publish(SocketEvent{Kind: EventStateChanged, State: Connected})

	go c.receive()

	if c.config.HeartbeatInterval > 0 {
		c.beats.Start(c.config.HeartbeatInterval)
	}

	c.logger.Info("Connection successful!")
	return nil
}

// run is the connection's main loop; teardown happens here so tracked
// goroutines never deadlock waiting on themselves.
func (c *Conn) run() error {
	c.logger.Infof("Connection has started")
	defer c.logger.Infof("Connection has stopped")

	for {
		select {
		case <-c.tmb.Dying():
			c.teardown(c.tmb.Err())
			return nil
		case <-c.client.Done():
			err := c.client.Err()
			if err == nil {
				err = fmt.Errorf("transport closed")
			}
			c.teardown(err)
			c.tmb.Kill(err)
			return nil
		case <-c.client.BetterPath():
			c.handleBetterPath()
		}
	}
}

// receive pumps inbound payloads into the opcode dispatch until the
// connection is dead.
func (c *Conn) receive() {
	for {
		select {
		case <-c.tmb.Dead():
			return
		case inbound := <-c.client.Inbound():
			if err := c.processInbound(inbound); err != nil {
				c.logger.Error(err)
			}
		}
	}
}

func (c *Conn) processInbound(inbound *wire.Inbound) error {
	switch inbound.Opcode {
	case wire.OpcodeText:
		c.dispatchMessage(wire.NewTextMessage(string(inbound.Payload)))
	case wire.OpcodeBinary:
		c.dispatchMessage(wire.NewBinaryMessage(inbound.Payload))
	case wire.OpcodeClose:
		code, reason := wire.DecodeClosePayload(inbound.Payload)

		c.lock.Lock()
		c.closeCode = code
		c.lock.Unlock()

		if c.config.KeepOpenOnClose {
			c.logger.Infof("Peer sent close (code %d) but we are configured to keep listening", code)
			return nil
		}
		c.close(fmt.Errorf("peer initiated close with code %d: %s", code, reason))
	case wire.OpcodePing:
		// The peer expects a pong mirroring the ping's payload
		if err := c.client.Send(wire.OpcodePong, inbound.Payload); err != nil {
			return fmt.Errorf("failed to answer ping: %w", err)
		}
	case wire.OpcodePong:
		c.beats.Received()
		c.events.Publish(SocketEvent{Kind: EventPong})
	default:
		// Transports hand up fully reassembled messages, so a bare
		// continuation frame here means the peer sent garbage
		return &BadDataFormatError{Reason: fmt.Sprintf("received unexpected %s frame", inbound.Opcode)}
	}
	return nil
}

// dispatchMessage completes the oldest waiting Receive caller and republishes
// the same message to every live subscription, preserving wire order for
// both.
func (c *Conn) dispatchMessage(message wire.Message) {
	c.receives.CompleteOldest(message)
	c.messages.Publish(message)
}

// Receive suspends until the next inbound application message is available
// to this call specifically. Concurrent callers each get their own uniquely
// identified pending record; messages resolve them in arrival order.
func (c *Conn) Receive(ctx context.Context) (wire.Message, error) {
	var zero wire.Message
	if state := c.State(); state != Connected && state != Migrating {
		return zero, &SocketNotConnectedError{}
	}

	record := c.receives.Add()

	select {
	case result := <-record.Done():
		return result.Value, result.Err
	case <-ctx.Done():
		// Forget only our own record; other callers' records are untouched
		c.receives.Remove(record.Id())
		return zero, ctx.Err()
	}
}

// ReceiveInto receives messages until one decodes into out. Decode failures
// are deliberately swallowed and the receive re-issued: typed callers only
// ever see eventual success or a connection failure.
func (c *Conn) ReceiveInto(ctx context.Context, out any) error {
	for {
		message, err := c.Receive(ctx)
		if err != nil {
			return err
		}

		if err := json.Unmarshal(message.Data(), out); err != nil {
			c.logger.Debugf("skipping message that failed to decode: %s", err)
			continue
		}
		return nil
	}
}

func (c *Conn) Send(ctx context.Context, message wire.Message) error {
	opcode := wire.OpcodeBinary
	if message.IsText() {
		opcode = wire.OpcodeText
	}
	return c.send(ctx, opcode, message.Data())
}

func (c *Conn) SendText(ctx context.Context, text string) error {
	return c.send(ctx, wire.OpcodeText, []byte(text))
}

func (c *Conn) SendBinary(ctx context.Context, data []byte) error {
	return c.send(ctx, wire.OpcodeBinary, data)
}

// Ping sends a ping control frame. The reply arrives through the receive
// path as a pong event, not as a return value.
func (c *Conn) Ping(ctx context.Context) error {
	return c.send(ctx, wire.OpcodePing, nil)
}

// Pong sends an unsolicited pong, permitted by the protocol as a one-way
// liveness signal.
func (c *Conn) Pong(ctx context.Context) error {
	return c.send(ctx, wire.OpcodePong, nil)
}

func (c *Conn) send(ctx context.Context, opcode wire.Opcode, payload []byte) error {
	if state := c.State(); state != Connected && state != Migrating {
		return &SocketNotConnectedError{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.client.Send(opcode, payload); err != nil {
		// Connection-reset-class errors mean the transport is gone; close
		// with going-away rather than letting callers keep failing
		if isFatalTransportError(err) {
			c.logger.Errorf("fatal transport error on send: %s", err)
			c.initiateClose(wire.CloseGoingAway, "transport failure")
		}
		return &TransportError{Err: err}
	}
	return nil
}

// Close sends the close handshake and tears down local state without waiting
// for the peer's acknowledgment. Safe to call multiple times; closing an
// already-disconnected connection is a no-op.
func (c *Conn) Close(code wire.CloseCode) {
	if state := c.State(); state == Disconnected || state == Idle {
		return
	}
	c.initiateClose(code, "")
}

// CloseWithContext sends the close handshake and waits for the transport to
// reach its terminal state before returning.
func (c *Conn) CloseWithContext(ctx context.Context, code wire.CloseCode) error {
	if state := c.State(); state == Disconnected || state == Idle {
		return nil
	}
	c.initiateClose(code, "")

	select {
	case <-c.tmb.Dead():
		return nil
	case <-ctx.Done():
		return &DisconnectFailedError{Err: ctx.Err()}
	}
}

// ForceClose bypasses the graceful handshake entirely and immediately
// cancels the transport.
func (c *Conn) ForceClose() {
	c.close(fmt.Errorf("connection was force closed"))
}

// initiateClose sends at most one close frame and then kills the connection.
func (c *Conn) initiateClose(code wire.CloseCode, reason string) {
	c.closeHandshake.Do(func() {
		if err := c.client.Send(wire.OpcodeClose, wire.EncodeClosePayload(code, reason)); err != nil {
			c.logger.Errorf("failed to send close frame: %s", err)
		}
	})
	c.close(fmt.Errorf("closed locally with code %d", code))
}

// closeGoingAway is the heartbeat's graceful close path; unlike
// initiateClose it surfaces the frame-send failure so the caller can fall
// back to a forced cancel.
func (c *Conn) closeGoingAway() error {
	var sendErr error
	c.closeHandshake.Do(func() {
		sendErr = c.client.Send(wire.OpcodeClose, wire.EncodeClosePayload(wire.CloseGoingAway, "heartbeat missed"))
	})
	if sendErr != nil {
		return &DisconnectFailedError{Err: sendErr}
	}
	c.close(fmt.Errorf("closed after missed heartbeat"))
	return nil
}

// close requests teardown. Tracked goroutines must call this, never a
// blocking wait, to ensure there is no deadlock.
func (c *Conn) close(reason error) {
	// Kill under the state lock so it cannot slip between Connect marking
	// the connection running and the main loop being tracked by the tomb
	c.lock.Lock()
	running := c.running
	c.tmb.Kill(reason)
	c.lock.Unlock()

	if !running {
		// No main loop to perform the teardown for us
		c.teardown(reason)
	}
}

// teardown resolves every outstanding pending record exactly once, ends all
// live subscriptions, and releases the transport. Idempotent under
// concurrent close attempts.
func (c *Conn) teardown(reason error) {
	c.teardownOnce.Do(func() {
		c.logger.Infof("connection closing because: %s", reason)

		c.beats.Stop()

		c.lock.Lock()
		c.state = Disconnected
		dialed := c.dialed
		c.lock.Unlock()

		c.events.Publish(SocketEvent{Kind: EventStateChanged, State: Disconnected})

		c.receives.FailAll(&CancelledError{Reason: reason.Error()})
		c.endStreams(reason)
		c.messages.Close(reason)
		c.events.Close(reason)

		if dialed {
			c.client.Close(reason)
		}
	})
}

func (c *Conn) handleBetterPath() {
	c.events.Publish(SocketEvent{Kind: EventPathShouldRefresh})

	if !c.config.AllowPathMigration || c.State() != Connected {
		return
	}

	// The transport swaps paths underneath us; pending records and live
	// subscriptions are deliberately untouched so in-flight operations
	// survive the migration
	c.setStateAndPublish(Migrating)
	c.setStateAndPublish(Connected)
}

// Messages returns a live subscription to every subsequent inbound
// application message. The stream ends when the caller ends it or the
// connection closes.
func (c *Conn) Messages() *subscription.Stream[wire.Message] {
	return streamOn(c, c.messages)
}

// Events returns a live subscription to connection lifecycle events.
func (c *Conn) Events() *subscription.Stream[SocketEvent] {
	return streamOn(c, c.events)
}

func streamOn[T any](c *Conn, b *broker.Broker[T]) *subscription.Stream[T] {
	var token broker.Token
	stream := subscription.NewStream[T](func() {
		b.Unsubscribe(token)
	})
	token = b.Subscribe(stream.Deliver)

	if closed, reason := b.Closed(); closed {
		stream.End(reason)
		return stream
	}

	c.registerStream(func(err error) { stream.End(err) })
	return stream
}

func (c *Conn) registerStream(end func(error)) {
	c.streamsLock.Lock()
	if c.torndown {
		c.streamsLock.Unlock()
		end(&CancelledError{Reason: "connection is closed"})
		return
	}
	c.streamEnders = append(c.streamEnders, end)
	c.streamsLock.Unlock()
}

func (c *Conn) endStreams(reason error) {
	c.streamsLock.Lock()
	c.torndown = true
	enders := c.streamEnders
	c.streamEnders = nil
	c.streamsLock.Unlock()

	for _, end := range enders {
		end(reason)
	}
}

// State returns a snapshot of the connection state.
func (c *Conn) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.state
}

// CloseCode returns the most recent close status observed from the peer, or
// no-status-received if no close handshake has happened.
func (c *Conn) CloseCode() wire.CloseCode {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.closeCode
}

func (c *Conn) Done() <-chan struct{} {
	return c.tmb.Dead()
}

func (c *Conn) Err() error {
	return c.tmb.Err()
}

func (c *Conn) setStateAndPublish(state State) {
	c.lock.Lock()
	c.state = state
	c.lock.Unlock()

	c.events.Publish(SocketEvent{Kind: EventStateChanged, State: state})
}

// heartbeatDelegate is the manager's narrow, non-owning handle back to the
// connection.
type heartbeatDelegate struct {
	conn *Conn
}

func (d *heartbeatDelegate) SendPing() error {
	return d.conn.Ping(context.Background())
}

func (d *heartbeatDelegate) CloseGoingAway() error {
	if d.conn.State() == Disconnected {
		return nil
	}
	return d.conn.closeGoingAway()
}

func (d *heartbeatDelegate) ForceClose() {
	d.conn.ForceClose()
}
