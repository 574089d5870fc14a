package roomserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"apprtc/native/internal/api"
	"apprtc/native/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *api.Client) {
	t.Helper()
	srv := httptest.NewServer(New(Config{
		ICEServers: []domain.ICEServer{{URLs: []string{"stun:stun.example:3478"}}},
	}).Handler())
	t.Cleanup(srv.Close)
	return srv, api.NewClient(srv.Client(), nil)
}

func join(t *testing.T, c *api.Client, base, roomID string) *domain.SignalingParameters {
	t.Helper()
	p, err := c.FetchRoomParameters(context.Background(), domain.RoomConnectionParameters{
		RoomServerURL: base,
		RoomID:        roomID,
	})
	require.NoError(t, err)
	return p
}

func register(t *testing.T, p *domain.SignalingParameters, roomID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(p.WssURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.WriteJSON(map[string]string{
		"cmd": "register", "roomid": roomID, "clientid": p.ClientID,
	}))
	return conn
}

func readDelivery(t *testing.T, conn *websocket.Conn) wsDelivery {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var d wsDelivery
	require.NoError(t, conn.ReadJSON(&d))
	return d
}

func TestJoin_AssignsRolesAndRejectsThirdClient(t *testing.T) {
	srv, c := newTestServer(t)

	first := join(t, c, srv.URL, "r1")
	assert.True(t, first.Initiator)
	assert.Equal(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", first.WssURL)
	assert.Equal(t, srv.URL, first.WssPostURL)
	assert.Equal(t, []domain.ICEServer{{URLs: []string{"stun:stun.example:3478"}}}, first.ICEServers)

	second := join(t, c, srv.URL, "r1")
	assert.False(t, second.Initiator)
	assert.NotEqual(t, first.ClientID, second.ClientID)

	_, err := c.FetchRoomParameters(context.Background(), domain.RoomConnectionParameters{
		RoomServerURL: srv.URL,
		RoomID:        "r1",
	})
	var re *api.RoomError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ResultFull, re.Result)
}

func TestMessage_SavedForJoiner(t *testing.T) {
	srv, c := newTestServer(t)

	first := join(t, c, srv.URL, "r2")
	offer := api.MarshalSessionDescription(domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0"})
	cand := api.MarshalCandidate(domain.ICECandidate{SDPMid: "0", Candidate: "candidate:1"})
	require.NoError(t, c.PostMessage(context.Background(), srv.URL+"/message/r2/"+first.ClientID, offer))
	require.NoError(t, c.PostMessage(context.Background(), srv.URL+"/message/r2/"+first.ClientID, cand))

	second := join(t, c, srv.URL, "r2")
	require.NotNil(t, second.OfferSDP)
	assert.Equal(t, "v=0", second.OfferSDP.SDP)
	assert.Equal(t, []domain.ICECandidate{{SDPMid: "0", Candidate: "candidate:1"}}, second.ICECandidates)
}

func TestMessage_UnknownClient(t *testing.T) {
	srv, c := newTestServer(t)
	join(t, c, srv.URL, "r3")

	err := c.PostMessage(context.Background(), srv.URL+"/message/r3/nobody", "{}")
	assert.EqualError(t, err, "room response error: "+ResultUnknownClient)
	err = c.PostMessage(context.Background(), srv.URL+"/message/nope/nobody", "{}")
	assert.EqualError(t, err, "room response error: "+ResultUnknownRoom)
}

func TestWebSocket_RelaysBetweenRegisteredClients(t *testing.T) {
	srv, c := newTestServer(t)
	first := join(t, c, srv.URL, "r4")
	second := join(t, c, srv.URL, "r4")

	a := register(t, first, "r4")
	// Sent before the peer registers; held until it does.
	require.NoError(t, a.WriteJSON(map[string]string{"cmd": "send", "msg": "early"}))
	time.Sleep(50 * time.Millisecond)

	b := register(t, second, "r4")
	assert.Equal(t, wsDelivery{Msg: "early"}, readDelivery(t, b))

	require.NoError(t, b.WriteJSON(map[string]string{"cmd": "send", "msg": "to-a"}))
	assert.Equal(t, wsDelivery{Msg: "to-a"}, readDelivery(t, a))

	// POST side channel relays to the other client too.
	_, err := c.Do(context.Background(), http.MethodPost, second.WssPostURL+"/r4/"+second.ClientID, "posted")
	require.NoError(t, err)
	assert.Equal(t, wsDelivery{Msg: "posted"}, readDelivery(t, a))
}

func TestWebSocket_RejectsBadCommands(t *testing.T) {
	srv, c := newTestServer(t)
	p := join(t, c, srv.URL, "r5")

	conn, _, err := websocket.DefaultDialer.Dial(p.WssURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"cmd": "send", "msg": "x"}))
	assert.Equal(t, "Client not registered", readDelivery(t, conn).Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "Invalid message", readDelivery(t, conn).Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"cmd": "register", "roomid": "r5", "clientid": "ghost"}))
	assert.Equal(t, "Unknown client", readDelivery(t, conn).Error)
}

func TestLeave_FreesSlotAndPromotesRemainingClient(t *testing.T) {
	srv, c := newTestServer(t)
	first := join(t, c, srv.URL, "r6")
	join(t, c, srv.URL, "r6")

	_, err := c.Do(context.Background(), http.MethodPost, srv.URL+"/leave/r6/"+first.ClientID, "")
	require.NoError(t, err)

	third := join(t, c, srv.URL, "r6")
	assert.False(t, third.Initiator)
}
