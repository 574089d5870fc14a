package room

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"apprtc/native/internal/domain"
	"apprtc/native/internal/looper"
	"apprtc/native/internal/signal"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// events records SignalingEvents. It is only touched on the client looper.
type events struct {
	connected   []*domain.SignalingParameters
	remoteDescs []domain.SessionDescription
	candidates  []domain.ICECandidate
	removals    [][]domain.ICECandidate
	closes      int
	errors      []string
}

func (e *events) OnConnectedToRoom(p *domain.SignalingParameters) { e.connected = append(e.connected, p) }
func (e *events) OnRemoteDescription(sdp domain.SessionDescription) {
	e.remoteDescs = append(e.remoteDescs, sdp)
}
func (e *events) OnRemoteICECandidate(c domain.ICECandidate) { e.candidates = append(e.candidates, c) }
func (e *events) OnRemoteICECandidatesRemoved(cs []domain.ICECandidate) {
	e.removals = append(e.removals, cs)
}
func (e *events) OnChannelClose()            { e.closes++ }
func (e *events) OnChannelError(desc string) { e.errors = append(e.errors, desc) }

func (e *events) clone() events {
	return events{
		connected:   append([]*domain.SignalingParameters(nil), e.connected...),
		remoteDescs: append([]domain.SessionDescription(nil), e.remoteDescs...),
		candidates:  append([]domain.ICECandidate(nil), e.candidates...),
		removals:    append([][]domain.ICECandidate(nil), e.removals...),
		closes:      e.closes,
		errors:      append([]string(nil), e.errors...),
	}
}

type fetcherFunc func(ctx context.Context, p domain.RoomConnectionParameters) (*domain.SignalingParameters, error)

func (f fetcherFunc) FetchRoomParameters(ctx context.Context, p domain.RoomConnectionParameters) (*domain.SignalingParameters, error) {
	return f(ctx, p)
}

func staticFetcher(sp domain.SignalingParameters) fetcherFunc {
	return func(context.Context, domain.RoomConnectionParameters) (*domain.SignalingParameters, error) {
		out := sp
		return &out, nil
	}
}

// fakeRoomServer answers message/leave posts and accepts collider sockets,
// recording everything it receives.
type fakeRoomServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn

	mu       sync.Mutex
	requests []string
	frames   []string
}

func newFakeRoomServer(t *testing.T) *fakeRoomServer {
	t.Helper()
	f := &fakeRoomServer{conns: make(chan *websocket.Conn, 4)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRoomServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.frames = append(f.frames, string(data))
			f.mu.Unlock()
		}
	}
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path+" "+string(body))
	f.mu.Unlock()
	io.WriteString(w, `{"result":"SUCCESS"}`)
}

func (f *fakeRoomServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
}

func (f *fakeRoomServer) snapshot() (requests, frames []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...), append([]string(nil), f.frames...)
}

func (f *fakeRoomServer) params(initiator bool) domain.SignalingParameters {
	return domain.SignalingParameters{
		Initiator:  initiator,
		ClientID:   "me",
		WssURL:     f.wsURL(),
		WssPostURL: f.srv.URL,
	}
}

func (f *fakeRoomServer) roomParams(loopback bool) domain.RoomConnectionParameters {
	return domain.RoomConnectionParameters{RoomServerURL: f.srv.URL, RoomID: "room", Loopback: loopback}
}

type wsHarness struct {
	lp  *looper.Looper
	ev  *events
	cli *WebSocketClient
}

func newWSHarness(t *testing.T, opts ...Option) *wsHarness {
	t.Helper()
	h := &wsHarness{lp: looper.New(t.Name(), nil), ev: &events{}}
	t.Cleanup(h.lp.Quit)
	opts = append([]Option{WithLooper(h.lp), WithCloseTimeout(200 * time.Millisecond)}, opts...)
	h.cli = NewWebSocketClient(h.ev, opts...)
	return h
}

func (h *wsHarness) events() events {
	var e events
	h.lp.Invoke(func() { e = h.ev.clone() })
	return e
}

func (h *wsHarness) registered() bool {
	var ok bool
	h.lp.Invoke(func() {
		ok = h.cli.ws != nil && h.cli.ws.State() == signal.StateRegistered
	})
	return ok
}

func (h *wsHarness) flush() {
	h.lp.Invoke(func() {})
}

func waitConnected(t *testing.T, get func() events) {
	t.Helper()
	require.Eventually(t, func() bool { return len(get().connected) == 1 }, waitFor, tick)
}
