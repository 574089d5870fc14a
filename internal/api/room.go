package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"apprtc/native/internal/domain"

	"github.com/pkg/errors"
)

// ResultSuccess is the room server's success marker.
const ResultSuccess = "SUCCESS"

// RoomError is returned when the room server answers with a failure result.
type RoomError struct {
	Result string
}

func (e *RoomError) Error() string {
	return "room response error: " + e.Result
}

type joinResponse struct {
	Result string       `json:"result"`
	Params embeddedJSON `json:"params"`
}

type joinParams struct {
	ClientID     string       `json:"client_id"`
	IsInitiator  flexBool     `json:"is_initiator"`
	WssURL       string       `json:"wss_url"`
	WssPostURL   string       `json:"wss_post_url"`
	Messages     []string     `json:"messages"`
	PCConfig     embeddedJSON `json:"pc_config"`
	ICEServerURL string       `json:"ice_server_url"`
}

type iceServersJSON struct {
	ICEServers []iceServerJSON `json:"iceServers"`
}

type iceServerJSON struct {
	URLs       flexStrings `json:"urls"`
	URL        string      `json:"url"`
	Username   string      `json:"username"`
	Credential string      `json:"credential"`
}

type messageResponse struct {
	Result string `json:"result"`
}

// embeddedJSON accepts either a JSON value or a string holding JSON.
type embeddedJSON json.RawMessage

func (e *embeddedJSON) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	*e = append((*e)[:0], b...)
	return nil
}

// flexBool accepts true, false, "true" and "false".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return errors.Wrapf(err, "is_initiator %s", b)
	}
	*f = flexBool(v)
	return nil
}

// flexStrings accepts a single string or an array of strings.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*f = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*f = many
	return nil
}

func (s iceServerJSON) toDomain() domain.ICEServer {
	urls := []string(s.URLs)
	if len(urls) == 0 && s.URL != "" {
		urls = []string{s.URL}
	}
	return domain.ICEServer{URLs: urls, Username: s.Username, Credential: s.Credential}
}

// FetchRoomParameters joins the room and returns the negotiated parameters.
func (c *Client) FetchRoomParameters(ctx context.Context, p domain.RoomConnectionParameters) (*domain.SignalingParameters, error) {
	url := JoinURL(p)
	c.log.Infof("connecting to room: %s", url)

	body, err := c.Do(ctx, http.MethodPost, url, "")
	if err != nil {
		return nil, errors.Wrap(err, "room join")
	}
	c.log.Debugf("room response: %s", body)

	params, err := parseJoinResponse(body)
	if err != nil {
		return nil, err
	}

	if params.iceServerURL != "" && !hasTURN(params.ICEServers) {
		turn, err := c.FetchTURNServers(ctx, params.iceServerURL, p.RoomServerURL)
		if err != nil {
			return nil, err
		}
		params.ICEServers = append(params.ICEServers, turn...)
	}
	return &params.SignalingParameters, nil
}

type joined struct {
	domain.SignalingParameters
	iceServerURL string
}

// parseJoinResponse decodes a room join response body.
func parseJoinResponse(body string) (*joined, error) {
	var resp joinResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, errors.Wrap(err, "room response JSON parsing error")
	}
	if resp.Result != ResultSuccess {
		return nil, &RoomError{Result: resp.Result}
	}
	if len(resp.Params) == 0 {
		return nil, errors.Wrap(ErrMissingField, "params")
	}

	var jp joinParams
	if err := json.Unmarshal(resp.Params, &jp); err != nil {
		return nil, errors.Wrap(err, "room params JSON parsing error")
	}
	if jp.ClientID == "" {
		return nil, errors.Wrap(ErrMissingField, "client_id")
	}

	out := &joined{
		SignalingParameters: domain.SignalingParameters{
			Initiator:  bool(jp.IsInitiator),
			ClientID:   jp.ClientID,
			WssURL:     jp.WssURL,
			WssPostURL: jp.WssPostURL,
		},
		iceServerURL: jp.ICEServerURL,
	}

	if !out.Initiator {
		for _, raw := range jp.Messages {
			msg, err := ParseMessage(raw)
			if err != nil {
				return nil, errors.Wrap(err, "room message")
			}
			switch msg.Type {
			case TypeOffer:
				out.OfferSDP = msg.Description
			case TypeCandidate:
				out.ICECandidates = append(out.ICECandidates, *msg.Candidate)
			default:
				return nil, errors.Errorf("unknown message: %s", raw)
			}
		}
	}

	if len(jp.PCConfig) > 0 {
		var pc iceServersJSON
		if err := json.Unmarshal(jp.PCConfig, &pc); err != nil {
			return nil, errors.Wrap(err, "pc_config JSON parsing error")
		}
		for _, s := range pc.ICEServers {
			out.ICEServers = append(out.ICEServers, s.toDomain())
		}
	}
	return out, nil
}

// FetchTURNServers asks the ICE server service for TURN credentials.
func (c *Client) FetchTURNServers(ctx context.Context, url, referer string) ([]domain.ICEServer, error) {
	c.log.Debugf("requesting TURN servers from %s", url)
	header := http.Header{}
	if referer != "" {
		header.Set("Referer", referer)
	}
	body, err := c.do(ctx, http.MethodPost, url, "", header)
	if err != nil {
		return nil, errors.Wrap(err, "TURN request")
	}
	var resp iceServersJSON
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, errors.Wrap(err, "TURN response JSON parsing error")
	}
	servers := make([]domain.ICEServer, 0, len(resp.ICEServers))
	for _, s := range resp.ICEServers {
		servers = append(servers, s.toDomain())
	}
	return servers, nil
}

// PostMessage relays a payload through the room server. The response must
// carry result SUCCESS.
func (c *Client) PostMessage(ctx context.Context, url, payload string) error {
	body, err := c.Do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	var resp messageResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return errors.Wrap(err, "GAE POST JSON error")
	}
	if resp.Result != ResultSuccess {
		return &RoomError{Result: resp.Result}
	}
	return nil
}

func hasTURN(servers []domain.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}
