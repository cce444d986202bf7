package connection

import (
	"net/http"
	"net/url"
	"time"
)

// Recognized connection options. The zero value is a usable default: secure
// transport, no heartbeat, teardown on a peer-initiated close.
type Config struct {
	// Downgrade to an unencrypted transport
	AllowInsecureConnections bool

	// Surface better-path notifications as a live migration instead of an
	// advisory event
	AllowPathMigration bool

	// Zero disables the heartbeat entirely. Values below MinHeartbeatInterval
	// are rejected at connect time, not at construction.
	HeartbeatInterval time.Duration

	// Whether a peer-initiated close frame tears the connection down
	// immediately, or is ignored to keep listening. Inverted flag so the
	// zero-value Config disconnects, which is what nearly every caller wants.
	KeepOpenOnClose bool

	// Pass-throughs to the transport's upgrade request
	Headers http.Header
	Params  url.Values

	HandshakeTimeout time.Duration

	// Cap on how long a single Connect call keeps retrying the dial
	MaxConnectTime time.Duration
}

const MinHeartbeatInterval = time.Second

const defaultMaxConnectTime = 30 * time.Second

func (c *Config) maxConnectTime() time.Duration {
	if c.MaxConnectTime > 0 {
		return c.MaxConnectTime
	}
	return defaultMaxConnectTime
}
