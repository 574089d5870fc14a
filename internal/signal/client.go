// Package signal implements the WebSocket channel to the room server's
// collider: connection, registration, buffered sends and the auxiliary HTTP
// POST/DELETE endpoint.
package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"apprtc/native/internal/api"
	"apprtc/native/internal/looper"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// DefaultCloseTimeout bounds Disconnect(true).
const DefaultCloseTimeout = time.Second

// State is the WebSocket channel state.
type State int

const (
	StateNew State = iota
	StateConnected
	StateRegistered
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnected:
		return "CONNECTED"
	case StateRegistered:
		return "REGISTERED"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Events receives channel notifications on the channel's looper.
type Events interface {
	OnWebSocketMessage(msg string)
	OnWebSocketClose()
	OnWebSocketError(description string)
}

// Config configures a Client.
type Config struct {
	// Looper owns the client. Required.
	Looper *looper.Looper
	// Events is required.
	Events Events

	// HTTP sends the POST and DELETE requests. Defaults to api.NewClient.
	HTTP *api.Client
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// CloseTimeout bounds Disconnect(true). Defaults to DefaultCloseTimeout.
	CloseTimeout time.Duration
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration

	LoggerFactory logging.LoggerFactory
}

type registerCommand struct {
	Cmd      string `json:"cmd"`
	RoomID   string `json:"roomid"`
	ClientID string `json:"clientid"`
}

type sendCommand struct {
	Cmd string `json:"cmd"`
	Msg string `json:"msg"`
}

// Client is a WebSocket channel bound to a looper. Every method must be
// called on that looper and every event is delivered there.
type Client struct {
	looper       *looper.Looper
	events       Events
	http         *api.Client
	dialer       *websocket.Dialer
	closeTimeout time.Duration
	pingInterval time.Duration
	log          logging.LeveledLogger

	// Owned by the looper.
	state    State
	wsURL    string
	postURL  string
	roomID   string
	clientID string
	queue    []string
	conn     *websocket.Conn
	cancel   context.CancelFunc
	closeCh  chan struct{}
}

// NewClient creates a client in state NEW.
func NewClient(config Config) (*Client, error) {
	if config.Looper == nil {
		return nil, errors.New("signal: looper is required")
	}
	if config.Events == nil {
		return nil, errors.New("signal: events are required")
	}
	lf := config.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	c := &Client{
		looper:       config.Looper,
		events:       config.Events,
		http:         config.HTTP,
		dialer:       config.Dialer,
		closeTimeout: config.CloseTimeout,
		pingInterval: config.PingInterval,
		log:          lf.NewLogger("signal"),
	}
	if c.http == nil {
		c.http = api.NewClient(nil, lf)
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.closeTimeout <= 0 {
		c.closeTimeout = DefaultCloseTimeout
	}
	return c, nil
}

// State returns the current state.
func (c *Client) State() State {
	c.looper.AssertCurrent()
	return c.state
}

// Connect dials wsURL in the background. postURL is the base of the HTTP
// POST/DELETE endpoint. Only valid in state NEW.
func (c *Client) Connect(wsURL, postURL string) {
	c.looper.AssertCurrent()
	if c.state != StateNew {
		c.log.Warnf("WebSocket is already connected (state %s)", c.state)
		return
	}
	c.wsURL = wsURL
	c.postURL = postURL
	c.closeCh = make(chan struct{})

	c.log.Debugf("connecting WebSocket to: %s. Post URL: %s", wsURL, postURL)
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
		c.looper.Post(func() { c.onDialed(conn, err) })
	}()
}

func (c *Client) onDialed(conn *websocket.Conn, err error) {
	if c.state != StateNew {
		// Disconnected while dialing.
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.reportError("WebSocket connection error: " + err.Error())
		return
	}

	c.log.Debugf("WebSocket connection opened to: %s", c.wsURL)
	c.conn = conn
	c.state = StateConnected
	go c.readLoop(conn, c.closeCh)
	if c.pingInterval > 0 {
		go c.pingLoop(conn, c.closeCh)
	}

	if c.roomID != "" && c.clientID != "" {
		c.Register(c.roomID, c.clientID)
	}
}

// Register associates the connection with a room and client, then flushes
// the messages queued so far in FIFO order. Before the connection opens the
// ids are stored and registration happens on open.
func (c *Client) Register(roomID, clientID string) {
	c.looper.AssertCurrent()
	c.roomID = roomID
	c.clientID = clientID
	if c.state != StateConnected {
		c.log.Warnf("WebSocket register() in state %s", c.state)
		return
	}

	c.log.Debugf("registering WebSocket for room %s. ClientID: %s", roomID, clientID)
	if err := c.write(registerCommand{Cmd: "register", RoomID: roomID, ClientID: clientID}); err != nil {
		c.reportError("WebSocket register error: " + err.Error())
		return
	}
	c.state = StateRegistered

	queued := c.queue
	c.queue = nil
	for _, msg := range queued {
		c.Send(msg)
	}
}

// Send relays msg to the other peer. Messages are queued until registration
// and dropped once the channel is closed or failed.
func (c *Client) Send(msg string) {
	c.looper.AssertCurrent()
	switch c.state {
	case StateNew, StateConnected:
		c.log.Debugf("WS ACC: %s", msg)
		c.queue = append(c.queue, msg)
	case StateClosed, StateError:
		c.log.Errorf("WebSocket send() in error or closed state: %s", msg)
	case StateRegistered:
		c.log.Debugf("C->WSS: %s", msg)
		if err := c.write(sendCommand{Cmd: "send", Msg: msg}); err != nil {
			c.reportError("WebSocket send error: " + err.Error())
		}
	}
}

// Post delivers msg through the HTTP POST endpoint. Used when the peer may not
// be registered on the WebSocket yet.
func (c *Client) Post(msg string) {
	c.looper.AssertCurrent()
	c.sendWSSMessage(http.MethodPost, msg)
}

// Disconnect says goodbye if registered, closes the socket and moves to
// CLOSED; ERROR is kept. With waitForComplete it blocks up to the close
// timeout for the socket to finish closing.
func (c *Client) Disconnect(waitForComplete bool) {
	c.looper.AssertCurrent()
	c.log.Debugf("disconnect WebSocket. State: %s", c.state)

	if c.state == StateRegistered {
		c.Send(api.MarshalBye())
		c.state = StateConnected
		c.sendWSSMessage(http.MethodDelete, "")
	}

	switch c.state {
	case StateNew:
		if c.cancel != nil {
			c.cancel()
		}
		c.state = StateClosed
		c.queue = nil
	case StateConnected, StateError:
		c.queue = nil
		if c.state == StateConnected {
			c.state = StateClosed
		}
		if c.conn == nil {
			return
		}
		conn := c.conn
		c.conn = nil
		deadline := time.Now().Add(c.closeTimeout)
		if err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); err != nil {
			c.log.Debugf("write close frame: %v", err)
		}
		if waitForComplete {
			select {
			case <-c.closeCh:
			case <-time.After(c.closeTimeout):
				c.log.Warnf("wait for WebSocket close timed out")
			}
		}
		conn.Close()
	}
	c.log.Debugf("disconnecting WebSocket done")
}

func (c *Client) sendWSSMessage(method, msg string) {
	url := api.RoomPath(c.postURL, c.roomID, c.clientID)
	c.log.Debugf("WS %s : %s : %s", method, url, msg)
	c.http.DoAsync(context.Background(), method, url, msg, func(_ string, err error) {
		if err != nil {
			c.looper.Post(func() {
				c.reportError("WS " + method + " error: " + err.Error())
			})
		}
	})
}

func (c *Client) write(v any) error {
	if c.conn == nil {
		return errors.New("not connected")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) reportError(description string) {
	c.log.Errorf("%s", description)
	if c.state == StateError || c.state == StateClosed {
		return
	}
	c.state = StateError
	c.events.OnWebSocketError(description)
}

func (c *Client) readLoop(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.looper.Post(func() { c.onSocketClosed(conn, err) })
			return
		}
		msg := string(data)
		c.looper.Post(func() {
			if c.conn != conn {
				return
			}
			if c.state == StateConnected || c.state == StateRegistered {
				c.log.Debugf("WSS->C: %s", msg)
				c.events.OnWebSocketMessage(msg)
			}
		})
	}
}

func (c *Client) onSocketClosed(conn *websocket.Conn, err error) {
	c.log.Debugf("WebSocket connection closed: %v. State: %s", err, c.state)
	if c.state == StateClosed || c.state == StateError {
		return
	}
	c.conn = nil
	c.state = StateClosed
	c.events.OnWebSocketClose()
}

func (c *Client) pingLoop(conn *websocket.Conn, closed chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pingInterval)); err != nil {
				c.log.Debugf("ping error: %v", err)
				return
			}
		}
	}
}
