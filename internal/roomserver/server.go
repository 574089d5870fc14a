// Package roomserver is a small AppRTC compatible room server for local
// testing: room join/message/leave over HTTP plus the collider WebSocket
// relay with its POST/DELETE side channel.
package roomserver

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"apprtc/native/internal/domain"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/tevino/abool"
)

// Result codes of the room server API.
const (
	ResultSuccess       = "SUCCESS"
	ResultFull          = "FULL"
	ResultUnknownRoom   = "UNKNOWN_ROOM"
	ResultUnknownClient = "UNKNOWN_CLIENT"
)

const maxRoomSize = 2

// Config configures a Server.
type Config struct {
	// ICEServers are advertised in pc_config.
	ICEServers []domain.ICEServer

	// LoggerFactory is the factory for creating loggers.
	// If nil, the pion default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Server holds the rooms. All state is in memory.
type Server struct {
	iceServers []domain.ICEServer
	upgrader   websocket.Upgrader
	log        logging.LeveledLogger

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	clients map[string]*client
}

type client struct {
	id        string
	initiator bool
	// messages are relayed over HTTP before the peer joined; they are handed
	// to the peer in its join response.
	messages []string

	registered *abool.AtomicBool
	ws         *wsConn
	// pending holds messages for this client until it registers.
	pending []string
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

type joinParams struct {
	RoomID       string   `json:"room_id"`
	ClientID     string   `json:"client_id"`
	IsInitiator  string   `json:"is_initiator"`
	WssURL       string   `json:"wss_url"`
	WssPostURL   string   `json:"wss_post_url"`
	Messages     []string `json:"messages"`
	PCConfig     string   `json:"pc_config"`
	ICEServerURL string   `json:"ice_server_url"`
}

type resultResponse struct {
	Result string      `json:"result"`
	Params *joinParams `json:"params,omitempty"`
}

type wsCommand struct {
	Cmd      string `json:"cmd"`
	RoomID   string `json:"roomid"`
	ClientID string `json:"clientid"`
	Msg      string `json:"msg"`
}

type wsDelivery struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
}

// New creates a server with no rooms.
func New(config Config) *Server {
	lf := config.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Server{
		iceServers: config.ICEServers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:   lf.NewLogger("roomserver"),
		rooms: make(map[string]*room),
	}
}

// Handler returns the HTTP routes. The collider POST/DELETE endpoint lives
// at the root, so wss_post_url is the server's own base URL.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors)
	r.Post("/join/{roomID}", s.handleJoin)
	r.Post("/message/{roomID}/{clientID}", s.handleMessage)
	r.Post("/leave/{roomID}/{clientID}", s.handleLeave)
	r.Get("/ws", s.handleWebSocket)
	r.Post("/{roomID}/{clientID}", s.handleWSPost)
	r.Delete("/{roomID}/{clientID}", s.handleWSDelete)
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

func writeResult(w http.ResponseWriter, resp *resultResponse) {
	w.Header().Set("content-type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleJoin(w http.ResponseWriter, req *http.Request) {
	roomID := chi.URLParam(req, "roomID")

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		rm = &room{clients: make(map[string]*client)}
		s.rooms[roomID] = rm
	}
	if len(rm.clients) >= maxRoomSize {
		s.mu.Unlock()
		s.log.Infof("room %s is full", roomID)
		writeResult(w, &resultResponse{Result: ResultFull})
		return
	}
	c := &client{
		id:         uuid.NewString(),
		initiator:  len(rm.clients) == 0,
		registered: abool.New(),
	}
	var messages []string
	for _, other := range rm.clients {
		messages = append(messages, other.messages...)
		other.messages = nil
	}
	rm.clients[c.id] = c
	s.mu.Unlock()

	s.log.Infof("client %s joined room %s (initiator=%t)", c.id, roomID, c.initiator)

	scheme, wsScheme := "http", "ws"
	if req.TLS != nil {
		scheme, wsScheme = "https", "wss"
	}
	if messages == nil {
		messages = []string{}
	}
	writeResult(w, &resultResponse{
		Result: ResultSuccess,
		Params: &joinParams{
			RoomID:      roomID,
			ClientID:    c.id,
			IsInitiator: boolString(c.initiator),
			WssURL:      wsScheme + "://" + req.Host + "/ws",
			WssPostURL:  scheme + "://" + req.Host,
			Messages:    messages,
			PCConfig:    s.pcConfig(),
		},
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *Server) pcConfig() string {
	servers := s.iceServers
	if servers == nil {
		servers = []domain.ICEServer{}
	}
	b, err := json.Marshal(struct {
		ICEServers []domain.ICEServer `json:"iceServers"`
	}{servers})
	if err != nil {
		return `{"iceServers":[]}`
	}
	return string(b)
}

func (s *Server) handleMessage(w http.ResponseWriter, req *http.Request) {
	roomID, clientID := chi.URLParam(req, "roomID"), chi.URLParam(req, "clientID")
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		writeResult(w, &resultResponse{Result: ResultUnknownRoom})
		return
	}
	sender, ok := rm.clients[clientID]
	if !ok {
		s.mu.Unlock()
		writeResult(w, &resultResponse{Result: ResultUnknownClient})
		return
	}
	other := rm.other(clientID)
	if other == nil {
		sender.messages = append(sender.messages, string(body))
		s.mu.Unlock()
		s.log.Debugf("saved message from %s for the next joiner", clientID)
		writeResult(w, &resultResponse{Result: ResultSuccess})
		return
	}
	s.mu.Unlock()

	s.deliver(other, string(body))
	writeResult(w, &resultResponse{Result: ResultSuccess})
}

func (s *Server) handleLeave(w http.ResponseWriter, req *http.Request) {
	roomID, clientID := chi.URLParam(req, "roomID"), chi.URLParam(req, "clientID")

	s.mu.Lock()
	if rm, ok := s.rooms[roomID]; ok {
		delete(rm.clients, clientID)
		if len(rm.clients) == 0 {
			delete(s.rooms, roomID)
		} else {
			// The remaining client becomes the initiator for the next joiner.
			for _, c := range rm.clients {
				c.initiator = true
			}
		}
	}
	s.mu.Unlock()

	s.log.Infof("client %s left room %s", clientID, roomID)
	writeResult(w, &resultResponse{Result: ResultSuccess})
}

func (rm *room) other(clientID string) *client {
	for id, c := range rm.clients {
		if id != clientID {
			return c
		}
	}
	return nil
}

// deliver sends msg to c over its WebSocket, or queues it until c registers.
func (s *Server) deliver(c *client, msg string) {
	s.mu.Lock()
	if !c.registered.IsSet() {
		c.pending = append(c.pending, msg)
		s.mu.Unlock()
		return
	}
	ws := c.ws
	s.mu.Unlock()

	if err := ws.writeJSON(wsDelivery{Msg: msg}); err != nil {
		s.log.Warnf("deliver to %s: %v", c.id, err)
	}
}

func (s *Server) lookup(roomID, clientID string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.clients[clientID]
}

func (s *Server) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.Warnf("upgrade: %v", err)
		return
	}
	ws := &wsConn{conn: conn}
	defer conn.Close()

	var self *client
	var roomID string
	defer func() {
		if self != nil {
			s.unregister(self, ws)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			ws.writeJSON(wsDelivery{Error: "Invalid message"})
			continue
		}

		switch cmd.Cmd {
		case "register":
			if self != nil {
				ws.writeJSON(wsDelivery{Error: "Duplicated register request"})
				continue
			}
			c := s.lookup(cmd.RoomID, cmd.ClientID)
			if c == nil {
				ws.writeJSON(wsDelivery{Error: "Unknown client"})
				continue
			}
			self, roomID = c, cmd.RoomID
			s.register(c, ws)
		case "send":
			if self == nil {
				ws.writeJSON(wsDelivery{Error: "Client not registered"})
				continue
			}
			s.relay(roomID, self.id, cmd.Msg)
		default:
			ws.writeJSON(wsDelivery{Error: "Invalid message"})
		}
	}
}

func (s *Server) register(c *client, ws *wsConn) {
	s.mu.Lock()
	c.ws = ws
	c.registered.Set()
	pending := c.pending
	c.pending = nil
	s.mu.Unlock()

	s.log.Debugf("client %s registered, flushing %d messages", c.id, len(pending))
	for _, msg := range pending {
		if err := ws.writeJSON(wsDelivery{Msg: msg}); err != nil {
			s.log.Warnf("flush to %s: %v", c.id, err)
			return
		}
	}
}

func (s *Server) unregister(c *client, ws *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ws == ws {
		c.ws = nil
		c.registered.UnSet()
	}
}

func (s *Server) relay(roomID, fromID, msg string) {
	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	var other *client
	if ok {
		other = rm.other(fromID)
	}
	s.mu.Unlock()
	if other == nil {
		s.log.Debugf("no peer in room %s for message from %s", roomID, fromID)
		return
	}
	s.deliver(other, msg)
}

func (s *Server) handleWSPost(w http.ResponseWriter, req *http.Request) {
	roomID, clientID := chi.URLParam(req, "roomID"), chi.URLParam(req, "clientID")
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.relay(roomID, clientID, string(body))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWSDelete(w http.ResponseWriter, req *http.Request) {
	roomID, clientID := chi.URLParam(req, "roomID"), chi.URLParam(req, "clientID")
	if c := s.lookup(roomID, clientID); c != nil {
		// Deregister only; frames already sent on the socket, such as a
		// bye, are still relayed by its read loop.
		s.mu.Lock()
		c.ws = nil
		c.registered.UnSet()
		s.mu.Unlock()
		s.log.Debugf("client %s deregistered", clientID)
	}
	w.WriteHeader(http.StatusOK)
}
