package transporter

import (
	"context"
	"net/http"
	"net/url"

	"github.com/seanericksonpl12/AsyncSockets/wire"
)

// Transporter is the reliable byte-stream collaborator underneath a
// connection. Implementations own handshake and framing; everything they hand
// up through Inbound is a fully reassembled payload tagged with its opcode.
type Transporter interface {
	Done() <-chan struct{}
	Err() error
	Inbound() <-chan *wire.Inbound
	BetterPath() <-chan struct{}
	Dial(connUrl *url.URL, headers http.Header, ctx context.Context) (err error)
	Send(opcode wire.Opcode, payload []byte) error
	Close(reason error)
}
