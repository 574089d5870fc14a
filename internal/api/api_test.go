package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"apprtc/native/internal/domain"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLs(t *testing.T) {
	p := domain.RoomConnectionParameters{RoomServerURL: "https://appr.tc/", RoomID: "1234"}
	assert.Equal(t, "https://appr.tc/join/1234", JoinURL(p))
	assert.Equal(t, "https://appr.tc/message/1234/c1", MessageURL(p, "c1"))
	assert.Equal(t, "https://appr.tc/leave/1234/c1", LeaveURL(p, "c1"))

	p.URLParameters = "debug=loopback"
	assert.Equal(t, "https://appr.tc/join/1234?debug=loopback", JoinURL(p))
	assert.Equal(t, "https://appr.tc/leave/1234/c1?debug=loopback", LeaveURL(p, "c1"))

	p = domain.RoomConnectionParameters{RoomServerURL: "https://appr.tc", RoomID: "a b/c?"}
	assert.Equal(t, "https://appr.tc/join/a%20b%2Fc%3F", JoinURL(p))
	assert.Equal(t, "https://appr.tc/message/a%20b%2Fc%3F/c%2F1", MessageURL(p, "c/1"))
	assert.Equal(t, "https://ws.example/r%201/c1", RoomPath("https://ws.example/", "r 1", "c1"))
}

func TestFetchRoomParameters_Initiator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/join/room1", r.URL.Path)
		io.WriteString(w, `{"result":"SUCCESS","params":{
			"client_id":"42","is_initiator":"true",
			"wss_url":"wss://ws.example/ws","wss_post_url":"https://ws.example",
			"messages":[],
			"pc_config":"{\"iceServers\":[{\"urls\":\"stun:stun.example:19302\"},{\"urls\":[\"turn:turn.example\"],\"username\":\"u\",\"credential\":\"p\"}]}"
		}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), nil)
	params, err := c.FetchRoomParameters(context.Background(), domain.RoomConnectionParameters{
		RoomServerURL: srv.URL,
		RoomID:        "room1",
	})
	require.NoError(t, err)
	assert.True(t, params.Initiator)
	assert.Equal(t, "42", params.ClientID)
	assert.Equal(t, "wss://ws.example/ws", params.WssURL)
	assert.Equal(t, "https://ws.example", params.WssPostURL)
	assert.Nil(t, params.OfferSDP)
	assert.Empty(t, params.ICECandidates)
	assert.Equal(t, []domain.ICEServer{
		{URLs: []string{"stun:stun.example:19302"}},
		{URLs: []string{"turn:turn.example"}, Username: "u", Credential: "p"},
	}, params.ICEServers)
}

func TestFetchRoomParameters_ReceiverGetsOfferAndCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result":"SUCCESS","params":{
			"client_id":"7","is_initiator":false,
			"wss_url":"wss://ws","wss_post_url":"https://ws",
			"messages":[
				"{\"type\":\"offer\",\"sdp\":\"v=0 offer\"}",
				"{\"type\":\"candidate\",\"label\":1,\"id\":\"video\",\"candidate\":\"candidate:1\"}"
			]
		}}`)
	}))
	defer srv.Close()

	params, err := NewClient(nil, nil).FetchRoomParameters(context.Background(), domain.RoomConnectionParameters{
		RoomServerURL: srv.URL,
		RoomID:        "r",
	})
	require.NoError(t, err)
	assert.False(t, params.Initiator)
	require.NotNil(t, params.OfferSDP)
	assert.Equal(t, domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 offer"}, *params.OfferSDP)
	assert.Equal(t, []domain.ICECandidate{{SDPMid: "video", SDPMLineIndex: 1, Candidate: "candidate:1"}}, params.ICECandidates)
}

func TestFetchRoomParameters_FetchesTURNWhenMissing(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/join/r", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result":"SUCCESS","params":{"client_id":"1","is_initiator":"true",
			"pc_config":{"iceServers":[{"urls":"stun:s"}]},
			"ice_server_url":"`+srv.URL+`/turn"}}`)
	})
	mux.HandleFunc("/turn", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, srv.URL, r.Header.Get("Referer"))
		io.WriteString(w, `{"iceServers":[{"urls":["turn:t1","turn:t2"],"username":"u","credential":"c"}]}`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	params, err := NewClient(srv.Client(), nil).FetchRoomParameters(context.Background(), domain.RoomConnectionParameters{
		RoomServerURL: srv.URL,
		RoomID:        "r",
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.ICEServer{
		{URLs: []string{"stun:s"}},
		{URLs: []string{"turn:t1", "turn:t2"}, Username: "u", Credential: "c"},
	}, params.ICEServers)
}

func TestFetchRoomParameters_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "room full",
			status: http.StatusOK,
			body:   `{"result":"FULL"}`,
			check: func(t *testing.T, err error) {
				var re *RoomError
				require.True(t, errors.As(err, &re))
				assert.Equal(t, "FULL", re.Result)
				assert.EqualError(t, err, "room response error: FULL")
			},
		},
		{
			name:   "http error",
			status: http.StatusInternalServerError,
			body:   `oops`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrHTTPStatus)
			},
		},
		{
			name:   "not json",
			status: http.StatusOK,
			body:   `<html>`,
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "room response JSON parsing error")
			},
		},
		{
			name:   "missing client id",
			status: http.StatusOK,
			body:   `{"result":"SUCCESS","params":{"is_initiator":"true"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingField)
			},
		},
		{
			name:   "unknown queued message",
			status: http.StatusOK,
			body:   `{"result":"SUCCESS","params":{"client_id":"1","is_initiator":"false","messages":["{\"type\":\"answer\",\"sdp\":\"x\"}"]}}`,
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "unknown message")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.Client(), nil).FetchRoomParameters(context.Background(), domain.RoomConnectionParameters{
				RoomServerURL: srv.URL,
				RoomID:        "r",
			})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestPostMessage(t *testing.T) {
	var result string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, `{"result":"`+result+`"}`)
	}))
	defer srv.Close()
	c := NewClient(srv.Client(), nil)

	result = ResultSuccess
	require.NoError(t, c.PostMessage(context.Background(), srv.URL, `{"type":"bye"}`))
	assert.Equal(t, `{"type":"bye"}`, gotBody)

	result = "INVALID_CLIENT"
	err := c.PostMessage(context.Background(), srv.URL, `{}`)
	assert.EqualError(t, err, "room response error: INVALID_CLIENT")
}

func TestDoAsync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	done := make(chan string, 1)
	NewClient(srv.Client(), nil).DoAsync(context.Background(), http.MethodDelete, srv.URL, "", func(resp string, err error) {
		assert.NoError(t, err)
		done <- resp
	})
	assert.Equal(t, "ok", <-done)
}
