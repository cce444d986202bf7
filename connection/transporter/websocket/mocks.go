package websocket

import (
	"fmt"
	"net"
	"net/http"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/seanericksonpl12/AsyncSockets/logger"
)

type MockWebsocketServer struct {
	logger   *logger.Logger
	listener net.Listener

	// Whether the server answers pings with pongs; a deaf server lets tests
	// starve the heartbeat
	AnswerPings bool

	Addr          string
	ReceivedBytes chan []byte

	conn *gorilla.Conn
}

// Adapted from: https://golangdocs.com/golang-gorilla-websockets
func NewMockWebsocketServer(logger *logger.Logger) *MockWebsocketServer {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		logger.Errorf("failed to setup listener")
	}

	mockServer := &MockWebsocketServer{
		logger:        logger,
		listener:      listener,
		AnswerPings:   true,
		Addr:          fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port),
		ReceivedBytes: make(chan []byte, 50),
	}

	go func() {
		http.Serve(mockServer.listener, mockServer)
	}()

	return mockServer
}

func (m *MockWebsocketServer) Shutdown() {
	m.listener.Close()
}

// Close performs an elegant close handshake with the connected client.
func (m *MockWebsocketServer) Close(code int) {
	if m.conn == nil {
		return
	}
	message := gorilla.FormatCloseMessage(code, "")
	m.conn.WriteControl(gorilla.CloseMessage, message, time.Now().Add(time.Second))
}

// ForceClose drops the underlying tcp connection with no handshake.
func (m *MockWebsocketServer) ForceClose() {
	if m.conn != nil {
		m.conn.Close()
	}
}

// Push writes a text message to the connected client.
func (m *MockWebsocketServer) Push(message []byte) error {
	if m.conn == nil {
		return fmt.Errorf("no client is connected")
	}
	return m.conn.WriteMessage(gorilla.TextMessage, message)
}

func (m *MockWebsocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := gorilla.Upgrader{}

	// Upgrade our raw HTTP connection to a websocket based one
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Errorf("Error during connection upgradation: %s", err)
		return
	}
	m.conn = conn
	defer conn.Close()

	conn.SetPingHandler(func(appData string) error {
		if m.AnswerPings {
			return conn.WriteControl(gorilla.PongMessage, []byte(appData), time.Now().Add(time.Second))
		}
		return nil
	})

	// The event loop: echo whatever we receive
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				m.logger.Errorf("Error during message reading: %s", err)
			}
			break
		}

		m.ReceivedBytes <- message

		err = conn.WriteMessage(messageType, message)
		if err != nil {
			m.logger.Errorf("Error during message writing: %s", err)
			break
		}
	}
}
