package webrtc

import (
	"strings"
	"sync"

	"apprtc/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// DataChannelLabel names the channel the initiator opens.
const DataChannelLabel = "apprtc"

// Config configures a Peer.
type Config struct {
	ICEServers []domain.ICEServer
	// Initiator creates the data channel so it is part of the offer.
	Initiator bool
	// FilterLoopback drops local loopback candidates before signaling them.
	FilterLoopback bool

	LoggerFactory logging.LoggerFactory
}

// Peer wraps a Pion PeerConnection and its DataChannel.
type Peer struct {
	pc             *pion.PeerConnection
	filterLoopback bool
	log            logging.LeveledLogger

	mu        sync.Mutex
	dc        *pion.DataChannel
	remoteSet bool
	pending   []domain.ICECandidate
	onOpen    func()
	onMessage func(msg string)
}

var _ domain.Peer = (*Peer)(nil)

// NewPeer creates a PeerConnection with the default codecs and a NACK
// responder.
func NewPeer(config Config) (*Peer, error) {
	lf := config.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, errors.Wrap(err, "create nack responder")
	}
	i.Add(responderFactory)

	se := pion.SettingEngine{LoggerFactory: lf}
	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   toPionICEServers(config.ICEServers),
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create peer connection")
	}

	p := &Peer{
		pc:             pc,
		filterLoopback: config.FilterLoopback,
		log:            lf.NewLogger("webrtc"),
	}

	if config.Initiator {
		dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
		if err != nil {
			pc.Close()
			return nil, errors.Wrap(err, "create data channel")
		}
		p.attach(dc)
	} else {
		pc.OnDataChannel(p.attach)
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Infof("ICE connection state: %s", state)
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.log.Infof("peer connection state: %s", state)
	})

	return p, nil
}

func toPionICEServers(servers []domain.ICEServer) []pion.ICEServer {
	out := make([]pion.ICEServer, 0, len(servers))
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		out = append(out, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func (p *Peer) attach(dc *pion.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.log.Infof("data channel %q opened", dc.Label())
		p.mu.Lock()
		f := p.onOpen
		p.mu.Unlock()
		if f != nil {
			f()
		}
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		p.log.Debugf("data channel message: %s", msg.Data)
		p.mu.Lock()
		f := p.onMessage
		p.mu.Unlock()
		if f != nil {
			f(string(msg.Data))
		}
	})
	dc.OnClose(func() {
		p.log.Infof("data channel closed")
	})
}

// OnDataChannelOpen registers a callback for when the data channel opens.
func (p *Peer) OnDataChannelOpen(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOpen = f
}

// OnDataChannelMessage registers a callback for text received on the data channel.
func (p *Peer) OnDataChannelMessage(f func(msg string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = f
}

// SendText writes text to the data channel.
func (p *Peer) SendText(text string) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return errors.New("data channel not available")
	}
	return dc.SendText(text)
}

// SetOnICECandidate registers the callback for locally gathered candidates.
func (p *Peer) SetOnICECandidate(send func(candidate domain.ICECandidate)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.log.Debugf("ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if p.filterLoopback && isLoopback(init.Candidate) {
			p.log.Debugf("filtering loopback ICE candidate")
			return
		}

		candidate := domain.ICECandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			candidate.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			candidate.SDPMLineIndex = int(*init.SDPMLineIndex)
		}

		p.log.Debugf("local ICE candidate: %s", init.Candidate)
		send(candidate)
	})
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "create offer")
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "set local description")
	}
	p.log.Debugf("local SDP offer set")
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: offer.SDP}, nil
}

// CreateAnswer answers the remote offer and sets it as the local description.
func (p *Peer) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "create answer")
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "set local description")
	}
	p.log.Debugf("local SDP answer set")
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: answer.SDP}, nil
}

// SetRemoteDescription applies the remote SDP, then any candidates that
// arrived ahead of it.
func (p *Peer) SetRemoteDescription(sdp domain.SessionDescription) error {
	desc := pion.SessionDescription{Type: pion.NewSDPType(string(sdp.Type)), SDP: sdp.SDP}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return errors.Wrap(err, "set remote description")
	}
	p.log.Debugf("remote SDP %s set", sdp.Type)

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.addICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

// AddRemoteICECandidate adds the candidate, or holds it until the remote
// description is set.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidate) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.addICECandidate(candidate)
}

func (p *Peer) addICECandidate(candidate domain.ICECandidate) error {
	idx := uint16(candidate.SDPMLineIndex)
	mid := candidate.SDPMid
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return errors.Wrap(err, "add ice candidate")
	}
	p.log.Debugf("added remote ICE candidate")
	return nil
}

// Close shuts down the DataChannel and PeerConnection.
func (p *Peer) Close() {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc != nil {
		dc.Close()
	}
	if err := p.pc.Close(); err != nil {
		p.log.Warnf("close peer connection: %v", err)
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
