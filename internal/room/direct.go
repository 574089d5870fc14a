package room

import (
	"net"
	"strconv"
	"strings"

	"apprtc/native/internal/api"
	"apprtc/native/internal/domain"
	"apprtc/native/internal/looper"
	"apprtc/native/internal/tcp"

	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// DefaultPort is used when a direct room id carries no port.
const DefaultPort = 8888

// ErrNotDirectRoom is returned for room ids that are not ip[:port].
var ErrNotDirectRoom = errors.New("room id is not an IP address")

// ParseRoomAddress splits a direct room id into host and port. Accepted forms
// are IPv4, IPv6 (bare or bracketed) and localhost, each with an optional
// :port.
func ParseRoomAddress(roomID string) (host string, port int, err error) {
	host, port = roomID, DefaultPort
	if h, p, splitErr := net.SplitHostPort(roomID); splitErr == nil {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 0 || n > 65535 {
			return "", 0, errors.Wrapf(ErrNotDirectRoom, "%q", roomID)
		}
		host, port = h, n
	} else if strings.HasPrefix(roomID, "[") && strings.HasSuffix(roomID, "]") {
		host = roomID[1 : len(roomID)-1]
	}

	if host != "localhost" && net.ParseIP(host) == nil {
		return "", 0, errors.Wrapf(ErrNotDirectRoom, "%q", roomID)
	}
	return host, port, nil
}

// IsDirectRoomID reports whether roomID addresses a peer directly.
func IsDirectRoomID(roomID string) bool {
	_, _, err := ParseRoomAddress(roomID)
	return err == nil
}

// DirectClient negotiates a call over a plain TCP connection. The room id is
// the address: the unspecified address listens for the peer and makes this
// side the initiator, any other address dials it.
type DirectClient struct {
	opts   options
	owned  bool
	looper *looper.Looper
	events domain.SignalingEvents
	log    logging.LeveledLogger

	// Owned by the looper.
	state     ConnectionState
	channel   *tcp.Channel
	initiator bool
}

var _ domain.RoomClient = (*DirectClient)(nil)

// NewDirectClient creates a direct client that reports to events.
func NewDirectClient(events domain.SignalingEvents, opts ...Option) *DirectClient {
	o, owned := build("direct", opts)
	return &DirectClient{
		opts:   o,
		owned:  owned,
		looper: o.looper,
		events: events,
		log:    o.loggerFactory.NewLogger("room"),
	}
}

// State returns the connection state. Safe from any goroutine.
func (c *DirectClient) State() ConnectionState {
	s := StateClosed
	c.looper.Invoke(func() { s = c.state })
	return s
}

// LocalAddr returns the bound address of the TCP channel, if any.
func (c *DirectClient) LocalAddr() net.Addr {
	var addr net.Addr
	c.looper.Invoke(func() {
		if c.channel != nil {
			addr = c.channel.LocalAddr()
		}
	})
	return addr
}

// ConnectToRoom opens the TCP channel described by params.RoomID.
func (c *DirectClient) ConnectToRoom(params domain.RoomConnectionParameters) {
	c.looper.Post(func() {
		if c.channel != nil || c.state != StateNew {
			c.log.Warnf("connectToRoom in state %s", c.state)
			return
		}
		host, port, err := ParseRoomAddress(params.RoomID)
		if err != nil {
			c.reportError("roomId must be an IP address for a direct connection: " + err.Error())
			return
		}
		ch, err := tcp.NewChannel(c.looper, (*tcpEvents)(c), host, port, c.opts.loggerFactory)
		if err != nil {
			c.reportError("TCP connection error: " + err.Error())
			return
		}
		c.channel = ch
	})
}

// DisconnectFromRoom closes the TCP channel. Repeated calls are no-ops.
func (c *DirectClient) DisconnectFromRoom() {
	c.looper.Post(func() {
		if c.state != StateError {
			c.state = StateClosed
		}
		if c.channel != nil {
			c.channel.Disconnect()
		}
		if c.owned {
			c.looper.Quit()
		}
	})
}

// SendOfferSDP sends the offer to the peer.
func (c *DirectClient) SendOfferSDP(sdp domain.SessionDescription) {
	c.looper.Post(func() {
		if c.state != StateConnected {
			c.reportError("Sending offer SDP in non connected state.")
			return
		}
		c.channel.Send(api.MarshalSessionDescription(sdp))
	})
}

// SendAnswerSDP sends the answer to the peer.
func (c *DirectClient) SendAnswerSDP(sdp domain.SessionDescription) {
	c.looper.Post(func() {
		if c.state != StateConnected {
			c.reportError("Sending answer SDP in non connected state.")
			return
		}
		c.channel.Send(api.MarshalSessionDescription(sdp))
	})
}

// SendLocalICECandidate sends a candidate to the peer.
func (c *DirectClient) SendLocalICECandidate(candidate domain.ICECandidate) {
	c.looper.Post(func() {
		if c.state != StateConnected {
			c.reportError("Sending ICE candidate in non connected state.")
			return
		}
		c.channel.Send(api.MarshalCandidate(candidate))
	})
}

// SendLocalICECandidateRemovals sends a removal batch to the peer.
func (c *DirectClient) SendLocalICECandidateRemovals(candidates []domain.ICECandidate) {
	c.looper.Post(func() {
		if c.state != StateConnected {
			c.reportError("Sending ICE candidate removals in non connected state.")
			return
		}
		c.channel.Send(api.MarshalCandidateRemovals(candidates))
	})
}

func (c *DirectClient) reportError(description string) {
	c.log.Errorf("%s", description)
	if c.state == StateError || c.state == StateClosed {
		return
	}
	c.state = StateError
	c.events.OnChannelError(description)
}

func (c *DirectClient) channelClosed() {
	if c.state == StateClosed || c.state == StateError {
		return
	}
	c.state = StateClosed
	c.events.OnChannelClose()
}

// tcpEvents receives TCP channel events on the shared looper.
type tcpEvents DirectClient

func (e *tcpEvents) OnTCPConnected(isServer bool) {
	c := (*DirectClient)(e)
	if !isServer {
		// The dialing side waits for the offer before it is in the room.
		return
	}
	c.state = StateConnected
	c.initiator = true
	c.events.OnConnectedToRoom(&domain.SignalingParameters{Initiator: true})
}

func (e *tcpEvents) OnTCPMessage(msg string) {
	c := (*DirectClient)(e)
	if c.state == StateClosed || c.state == StateError {
		c.log.Debugf("dropping TCP message in state %s: %s", c.state, msg)
		return
	}
	m, err := api.ParseMessage(msg)
	if err != nil {
		c.reportError("TCP message JSON parsing error: " + err.Error())
		return
	}
	switch m.Type {
	case api.TypeCandidate:
		c.events.OnRemoteICECandidate(*m.Candidate)
	case api.TypeRemoveCandidates:
		c.events.OnRemoteICECandidatesRemoved(m.Candidates)
	case api.TypeAnswer:
		if !c.initiator {
			c.reportError("Received answer for call receiver: " + msg)
			return
		}
		c.events.OnRemoteDescription(*m.Description)
	case api.TypeOffer:
		if c.initiator {
			c.reportError("Received offer for call initiator: " + msg)
			return
		}
		if c.state != StateNew {
			c.reportError("Unexpected offer in state " + c.state.String())
			return
		}
		c.state = StateConnected
		c.events.OnConnectedToRoom(&domain.SignalingParameters{
			Initiator: false,
			OfferSDP:  m.Description,
		})
	case api.TypeBye:
		c.channelClosed()
	default:
		c.reportError("Unexpected TCP message: " + msg)
	}
}

func (e *tcpEvents) OnTCPError(description string) {
	(*DirectClient)(e).reportError("TCP connection error: " + description)
}

func (e *tcpEvents) OnTCPClose() {
	(*DirectClient)(e).channelClosed()
}
