// Package call drives a peer connection from room signaling events.
package call

import (
	"context"
	"sync"

	"apprtc/native/internal/domain"

	"github.com/pion/logging"
)

// PeerFactory creates the peer once the room tells us our role.
type PeerFactory func(iceServers []domain.ICEServer, initiator bool) (domain.Peer, error)

// Call coordinates the signaling and WebRTC flows.
// It implements domain.SignalingEvents.
type Call struct {
	newPeer PeerFactory
	cancel  context.CancelFunc
	log     logging.LeveledLogger

	mu     sync.Mutex
	client domain.RoomClient
	peer   domain.Peer
	closed bool
}

var _ domain.SignalingEvents = (*Call)(nil)

// New creates a Call. cancel is invoked when the call ends for any reason.
// Call SetRoomClient before connecting the client.
func New(newPeer PeerFactory, cancel context.CancelFunc, lf logging.LoggerFactory) *Call {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Call{
		newPeer: newPeer,
		cancel:  cancel,
		log:     lf.NewLogger("call"),
	}
}

// SetRoomClient injects the room client after construction; the client needs
// the Call as its event sink and the Call needs the client to send.
func (c *Call) SetRoomClient(client domain.RoomClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
}

// Peer returns the peer, or nil before the room is joined.
func (c *Call) Peer() domain.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *Call) OnConnectedToRoom(params *domain.SignalingParameters) {
	c.log.Infof("connected to room (initiator=%t, %d ICE servers)", params.Initiator, len(params.ICEServers))

	peer, err := c.newPeer(params.ICEServers, params.Initiator)
	if err != nil {
		c.log.Errorf("create peer: %v", err)
		c.cancel()
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		peer.Close()
		return
	}
	c.peer = peer
	client := c.client
	c.mu.Unlock()

	peer.SetOnICECandidate(client.SendLocalICECandidate)

	if params.Initiator {
		c.log.Infof("creating offer")
		offer, err := peer.CreateOffer()
		if err != nil {
			c.fail("create offer", err)
			return
		}
		client.SendOfferSDP(offer)
		return
	}

	if params.OfferSDP != nil {
		c.answer(*params.OfferSDP)
	}
	for _, candidate := range params.ICECandidates {
		if err := peer.AddRemoteICECandidate(candidate); err != nil {
			c.log.Warnf("add remote ICE candidate: %v", err)
		}
	}
}

func (c *Call) answer(offer domain.SessionDescription) {
	c.mu.Lock()
	peer, client := c.peer, c.client
	c.mu.Unlock()

	if err := peer.SetRemoteDescription(offer); err != nil {
		c.fail("set remote offer", err)
		return
	}
	c.log.Infof("creating answer")
	answer, err := peer.CreateAnswer()
	if err != nil {
		c.fail("create answer", err)
		return
	}
	client.SendAnswerSDP(answer)
}

func (c *Call) OnRemoteDescription(sdp domain.SessionDescription) {
	peer := c.Peer()
	if peer == nil {
		c.log.Warnf("remote %s before the room was joined", sdp.Type)
		return
	}
	if sdp.Type == domain.SDPTypeOffer {
		c.answer(sdp)
		return
	}
	if err := peer.SetRemoteDescription(sdp); err != nil {
		c.log.Errorf("set remote description: %v", err)
	}
}

func (c *Call) OnRemoteICECandidate(candidate domain.ICECandidate) {
	peer := c.Peer()
	if peer == nil {
		c.log.Warnf("remote candidate before the room was joined")
		return
	}
	if err := peer.AddRemoteICECandidate(candidate); err != nil {
		c.log.Warnf("add remote ICE candidate: %v", err)
	}
}

func (c *Call) OnRemoteICECandidatesRemoved(candidates []domain.ICECandidate) {
	// Pion has no candidate removal; the ICE agent prunes failed pairs itself.
	c.log.Debugf("peer removed %d candidates", len(candidates))
}

func (c *Call) OnChannelClose() {
	c.log.Infof("remote end hung up")
	c.cancel()
}

func (c *Call) OnChannelError(description string) {
	c.log.Errorf("signaling error: %s", description)
	c.cancel()
}

func (c *Call) fail(what string, err error) {
	c.log.Errorf("%s: %v", what, err)
	c.cancel()
}

// Close leaves the room and closes the peer. Safe to call more than once.
func (c *Call) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	peer, client := c.peer, c.client
	c.mu.Unlock()

	if client != nil {
		client.DisconnectFromRoom()
	}
	if peer != nil {
		peer.Close()
	}
}
