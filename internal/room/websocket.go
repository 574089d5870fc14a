package room

import (
	"context"
	"encoding/json"
	"net/http"

	"apprtc/native/internal/api"
	"apprtc/native/internal/domain"
	"apprtc/native/internal/looper"
	"apprtc/native/internal/signal"

	"github.com/pion/logging"
)

// WebSocketClient negotiates a call through an AppRTC room server: it joins
// the room over HTTP, then relays signaling over the collider WebSocket.
//
// The initiator posts its offer and candidates over HTTP because the other
// peer may not have registered on the WebSocket yet. The receiver answers and
// sends candidates over the WebSocket.
type WebSocketClient struct {
	opts   options
	owned  bool
	looper *looper.Looper
	events domain.SignalingEvents
	log    logging.LeveledLogger

	// Owned by the looper.
	state      ConnectionState
	params     domain.RoomConnectionParameters
	initiator  bool
	joined     bool
	messageURL string
	leaveURL   string
	ws         *signal.Client
	cancelJoin context.CancelFunc
}

var _ domain.RoomClient = (*WebSocketClient)(nil)

// NewWebSocketClient creates a room server client that reports to events.
func NewWebSocketClient(events domain.SignalingEvents, opts ...Option) *WebSocketClient {
	o, owned := build("room", opts)
	return &WebSocketClient{
		opts:   o,
		owned:  owned,
		looper: o.looper,
		events: events,
		log:    o.loggerFactory.NewLogger("room"),
	}
}

// State returns the connection state. Safe from any goroutine.
func (c *WebSocketClient) State() ConnectionState {
	// An owned looper only quits after disconnect.
	s := StateClosed
	c.looper.Invoke(func() { s = c.state })
	return s
}

// ConnectToRoom joins the room asynchronously. The outcome is reported via
// OnConnectedToRoom or OnChannelError.
func (c *WebSocketClient) ConnectToRoom(params domain.RoomConnectionParameters) {
	c.looper.Post(func() { c.connectToRoom(params) })
}

func (c *WebSocketClient) connectToRoom(params domain.RoomConnectionParameters) {
	if c.ws != nil || c.state != StateNew {
		c.log.Warnf("connectToRoom in state %s", c.state)
		return
	}
	c.params = params

	ws, err := signal.NewClient(signal.Config{
		Looper:        c.looper,
		Events:        (*wsEvents)(c),
		HTTP:          c.opts.http,
		Dialer:        c.opts.dialer,
		CloseTimeout:  c.opts.closeTimeout,
		PingInterval:  c.opts.pingInterval,
		LoggerFactory: c.opts.loggerFactory,
	})
	if err != nil {
		c.reportError(err.Error())
		return
	}
	c.ws = ws

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelJoin = cancel
	go func() {
		sp, err := c.opts.fetcher.FetchRoomParameters(ctx, params)
		c.looper.Post(func() {
			if ctx.Err() != nil {
				c.log.Debugf("discarding room join result after disconnect")
				return
			}
			if err != nil {
				c.reportError(err.Error())
				return
			}
			c.signalingParametersReady(sp)
		})
	}()
}

func (c *WebSocketClient) signalingParametersReady(sp *domain.SignalingParameters) {
	c.log.Debugf("room connection completed")
	if c.params.Loopback {
		if err := c.opts.loopbackCheck(sp); err != nil {
			c.reportError(err.Error())
			return
		}
	}
	if !sp.Initiator && sp.OfferSDP == nil {
		c.log.Warnf("no offer SDP in room response")
	}

	c.initiator = sp.Initiator
	c.messageURL = api.MessageURL(c.params, sp.ClientID)
	c.leaveURL = api.LeaveURL(c.params, sp.ClientID)
	c.log.Debugf("message URL: %s", c.messageURL)
	c.log.Debugf("leave URL: %s", c.leaveURL)
	c.joined = true
	c.state = StateConnected

	c.events.OnConnectedToRoom(sp)

	c.ws.Connect(sp.WssURL, sp.WssPostURL)
	c.ws.Register(c.params.RoomID, sp.ClientID)
}

// DisconnectFromRoom leaves the room and closes the WebSocket. Repeated
// calls are no-ops.
func (c *WebSocketClient) DisconnectFromRoom() {
	c.looper.Post(func() {
		c.disconnectFromRoom()
		if c.owned {
			c.looper.Quit()
		}
	})
}

func (c *WebSocketClient) disconnectFromRoom() {
	c.log.Debugf("disconnect. Room state: %s", c.state)
	if c.cancelJoin != nil {
		c.cancelJoin()
	}
	if c.joined {
		c.log.Debugf("closing room")
		c.joined = false
		c.sendLeave()
	}
	if c.state != StateError {
		c.state = StateClosed
	}
	if c.ws != nil {
		c.ws.Disconnect(true)
	}
}

// SendOfferSDP posts the offer to the room server. In loopback mode it is
// echoed back immediately as the remote answer.
func (c *WebSocketClient) SendOfferSDP(sdp domain.SessionDescription) {
	c.looper.Post(func() {
		if c.state != StateConnected {
			c.reportError("Sending offer SDP in non connected state.")
			return
		}
		c.sendPostMessage(api.MarshalSessionDescription(sdp))
		if c.params.Loopback {
			c.events.OnRemoteDescription(domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: sdp.SDP})
		}
	})
}

// SendAnswerSDP relays the answer over the WebSocket.
func (c *WebSocketClient) SendAnswerSDP(sdp domain.SessionDescription) {
	c.looper.Post(func() {
		if c.params.Loopback {
			c.log.Errorf("sending answer in loopback mode")
			return
		}
		if c.state != StateConnected {
			c.reportError("Sending answer SDP in non connected state.")
			return
		}
		c.ws.Send(api.MarshalSessionDescription(sdp))
	})
}

// SendLocalICECandidate routes a candidate by role: HTTP for the initiator,
// WebSocket for the receiver.
func (c *WebSocketClient) SendLocalICECandidate(candidate domain.ICECandidate) {
	c.looper.Post(func() {
		c.sendCandidatePayload(api.MarshalCandidate(candidate), func() {
			c.events.OnRemoteICECandidate(candidate)
		})
	})
}

// SendLocalICECandidateRemovals routes a removal batch like a candidate.
func (c *WebSocketClient) SendLocalICECandidateRemovals(candidates []domain.ICECandidate) {
	c.looper.Post(func() {
		c.sendCandidatePayload(api.MarshalCandidateRemovals(candidates), func() {
			c.events.OnRemoteICECandidatesRemoved(candidates)
		})
	})
}

func (c *WebSocketClient) sendCandidatePayload(payload string, echo func()) {
	if c.state != StateConnected {
		c.reportError("Sending ICE candidate in non connected state.")
		return
	}
	if c.initiator {
		c.sendPostMessage(payload)
		if c.params.Loopback {
			echo()
		}
		return
	}
	c.ws.Send(payload)
}

func (c *WebSocketClient) sendPostMessage(payload string) {
	url := c.messageURL
	c.log.Debugf("C->GAE: %s", payload)
	go func() {
		if err := c.opts.http.PostMessage(context.Background(), url, payload); err != nil {
			c.looper.Post(func() { c.reportError("GAE POST error: " + err.Error()) })
		}
	}()
}

func (c *WebSocketClient) sendLeave() {
	c.opts.http.DoAsync(context.Background(), http.MethodPost, c.leaveURL, "", func(_ string, err error) {
		if err != nil {
			c.log.Warnf("leave: %v", err)
		}
	})
}

func (c *WebSocketClient) reportError(description string) {
	c.log.Errorf("%s", description)
	if c.state == StateError || c.state == StateClosed {
		return
	}
	c.state = StateError
	c.events.OnChannelError(description)
}

func (c *WebSocketClient) channelClosed() {
	if c.state == StateClosed || c.state == StateError {
		return
	}
	c.state = StateClosed
	c.events.OnChannelClose()
}

type wsEnvelope struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
}

// wsEvents receives WebSocket channel events on the shared looper.
type wsEvents WebSocketClient

func (e *wsEvents) OnWebSocketMessage(msg string) {
	c := (*WebSocketClient)(e)
	if c.state == StateClosed || c.state == StateError {
		c.log.Debugf("dropping WebSocket message in state %s: %s", c.state, msg)
		return
	}
	if c.ws.State() != signal.StateRegistered {
		c.log.Errorf("got WebSocket message in non registered state")
		return
	}

	var env wsEnvelope
	if err := json.Unmarshal([]byte(msg), &env); err != nil {
		c.reportError("WebSocket message JSON parsing error: " + err.Error())
		return
	}
	if env.Msg == "" {
		if env.Error != "" {
			c.reportError("WebSocket error message: " + env.Error)
		} else {
			c.reportError("Unexpected WebSocket message: " + msg)
		}
		return
	}

	m, err := api.ParseMessage(env.Msg)
	if err != nil {
		c.reportError("WebSocket message JSON parsing error: " + err.Error())
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
		c.events.OnRemoteDescription(*m.Description)
	case api.TypeBye:
		c.channelClosed()
	default:
		c.reportError("Unexpected WebSocket message: " + msg)
	}
}

func (e *wsEvents) OnWebSocketClose() {
	(*WebSocketClient)(e).channelClosed()
}

func (e *wsEvents) OnWebSocketError(description string) {
	(*WebSocketClient)(e).reportError("WebSocket error: " + description)
}
