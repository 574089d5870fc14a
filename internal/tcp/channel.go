// Package tcp implements the direct signaling transport: a single TCP
// connection carrying newline delimited messages between two peers.
package tcp

import (
	"net"

	"apprtc/native/internal/looper"

	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// ErrInvalidAddress is returned when the channel address is empty.
var ErrInvalidAddress = errors.New("tcp: invalid IP address")

// Events receives channel notifications on the channel's looper.
type Events interface {
	OnTCPConnected(isServer bool)
	OnTCPMessage(msg string)
	OnTCPError(description string)
	OnTCPClose()
}

// Channel is a direct signaling channel bound to a looper. All of its methods
// must be called on that looper, and all events are delivered there. After
// OnTCPClose no further events are delivered.
type Channel struct {
	looper *looper.Looper
	events Events
	socket *Socket
	log    logging.LeveledLogger

	closed bool
}

// NewChannel starts connecting. The unspecified address (0.0.0.0 or ::) makes
// this side listen for the peer; any other address, host names included, is
// dialed. Host names are resolved by the dial, off the looper.
func NewChannel(lp *looper.Looper, events Events, address string, port int, lf logging.LoggerFactory) (*Channel, error) {
	lp.AssertCurrent()
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	if address == "" {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q", address)
	}
	ip := net.ParseIP(address)

	c := &Channel{
		looper: lp,
		events: events,
		log:    lf.NewLogger("tcp"),
	}
	var err error
	c.socket, err = NewSocket(SocketConfig{
		Address:       address,
		Port:          port,
		Server:        ip != nil && ip.IsUnspecified(),
		Events:        (*socketEvents)(c),
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, err
	}
	c.socket.Connect()
	return c, nil
}

// IsServer reports whether this side listens for the peer.
func (c *Channel) IsServer() bool {
	return c.socket.IsServer()
}

// LocalAddr returns the address the socket is bound to, if any.
func (c *Channel) LocalAddr() net.Addr {
	return c.socket.LocalAddr()
}

// Send writes a message to the peer.
func (c *Channel) Send(msg string) {
	c.looper.AssertCurrent()
	c.socket.Send(msg)
}

// Disconnect closes the channel. It is safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.looper.AssertCurrent()
	c.socket.Disconnect()
}

// socketEvents hops socket notifications onto the channel looper.
type socketEvents Channel

func (e *socketEvents) OnSocketConnected(isServer bool) {
	c := (*Channel)(e)
	c.looper.Post(func() {
		if c.closed {
			return
		}
		c.events.OnTCPConnected(isServer)
	})
}

func (e *socketEvents) OnSocketMessage(msg string) {
	c := (*Channel)(e)
	c.looper.Post(func() {
		if c.closed {
			return
		}
		c.events.OnTCPMessage(msg)
	})
}

func (e *socketEvents) OnSocketError(description string) {
	c := (*Channel)(e)
	c.log.Errorf("TCP error: %s", description)
	c.looper.Post(func() {
		if c.closed {
			return
		}
		c.events.OnTCPError(description)
	})
}

func (e *socketEvents) OnSocketClosed() {
	c := (*Channel)(e)
	c.looper.Post(func() {
		if c.closed {
			return
		}
		c.closed = true
		c.events.OnTCPClose()
	})
}
