package tcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// State is the lifecycle state of a Socket.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// ErrNoEvents is returned when a Socket is configured without an event sink.
var ErrNoEvents = errors.New("tcp: socket events are required")

// SocketEvents receives socket notifications. Callbacks run on the socket's
// own goroutines, or on the caller of Connect, Send or Disconnect, and must
// not block.
type SocketEvents interface {
	OnSocketConnected(isServer bool)
	OnSocketMessage(msg string)
	OnSocketError(description string)
	OnSocketClosed()
}

// SocketConfig configures a Socket.
type SocketConfig struct {
	// Address is the local IP to listen on (server) or the peer to dial, which
	// may be a host name.
	Address string
	Port    int

	// Server selects the listening variant, which accepts exactly one peer.
	Server bool

	// Events is required.
	Events SocketEvents

	// LoggerFactory is the factory for creating loggers.
	// If nil, the pion default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Socket carries newline delimited text frames over a single TCP connection.
type Socket struct {
	addr     string
	isServer bool
	events   SocketEvents
	log      logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards the connection handle for both the write and the close path.
	mu       sync.Mutex
	state    State
	listener net.Listener
	conn     net.Conn
	writer   *bufio.Writer
}

// NewSocket creates an idle socket.
func NewSocket(config SocketConfig) (*Socket, error) {
	if config.Events == nil {
		return nil, ErrNoEvents
	}
	lf := config.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		addr:     net.JoinHostPort(config.Address, strconv.Itoa(config.Port)),
		isServer: config.Server,
		events:   config.Events,
		log:      lf.NewLogger("tcp"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// IsServer reports whether this is the listening variant.
func (s *Socket) IsServer() bool {
	return s.isServer
}

// State returns the current state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalAddr returns the listening address of a server socket that has not yet
// accepted its peer, or the local end of an established connection.
func (s *Socket) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.LocalAddr()
	}
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Connect starts establishing the connection. A server binds its listener
// before returning; accepting and dialing happen on a background goroutine.
// Failures are reported through OnSocketError.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.log.Warnf("connect called in state %s", s.state)
		return
	}
	s.state = StateConnecting

	if s.isServer {
		s.log.Debugf("listening on %s", s.addr)
		var lc net.ListenConfig
		ln, err := lc.Listen(s.ctx, "tcp", s.addr)
		if err != nil {
			s.state = StateDisconnected
			s.mu.Unlock()
			s.events.OnSocketError(fmt.Sprintf("Failed to create server socket: %v", err))
			return
		}
		s.listener = ln
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Send writes msg followed by a newline. Sends are mutually exclusive with
// each other and with Disconnect.
func (s *Socket) Send(msg string) {
	s.mu.Lock()
	if s.writer == nil {
		s.mu.Unlock()
		s.events.OnSocketError("Sending data on closed socket.")
		return
	}
	s.log.Tracef("send: %s", msg)
	_, err := s.writer.WriteString(msg + "\n")
	if err == nil {
		err = s.writer.Flush()
	}
	s.mu.Unlock()

	if err != nil {
		s.events.OnSocketError(fmt.Sprintf("Failed to write to socket: %v", err))
	}
}

// Disconnect aborts a pending connect or closes the live connection, then
// waits for the socket goroutines to exit. Closing a live connection emits
// OnSocketClosed once; later calls are no-ops.
func (s *Socket) Disconnect() {
	s.disconnect()
	s.wg.Wait()
}

func (s *Socket) disconnect() {
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.log.Debugf("close listener: %v", err)
		}
		s.listener = nil
	}
	conn := s.conn
	s.conn = nil
	s.writer = nil
	s.state = StateDisconnected
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debugf("close connection: %v", err)
		}
	}
	s.mu.Unlock()

	if conn != nil {
		s.events.OnSocketClosed()
	}
}

func (s *Socket) run() {
	defer s.wg.Done()

	conn, err := s.establish()
	if err != nil {
		if s.ctx.Err() != nil {
			s.log.Debugf("connect aborted: %v", err)
			return
		}
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.events.OnSocketError(err.Error())
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnected while the connection was being established.
		s.mu.Unlock()
		conn.Close()
		return
	}
	if s.listener != nil {
		// Only one peer is served; later connection attempts are refused.
		s.listener.Close()
		s.listener = nil
	}
	s.conn = conn
	s.writer = bufio.NewWriter(conn)
	s.state = StateConnected
	s.mu.Unlock()

	s.log.Debugf("connection established with %s", conn.RemoteAddr())
	s.events.OnSocketConnected(s.isServer)

	s.readLoop(conn)
	s.disconnect()
}

func (s *Socket) establish() (net.Conn, error) {
	if s.isServer {
		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()
		if ln == nil {
			return nil, errors.New("Failed to receive connection: listener closed")
		}
		conn, err := ln.Accept()
		if err != nil {
			return nil, errors.Wrap(err, "Failed to receive connection")
		}
		return conn, nil
	}

	s.log.Debugf("connecting to %s", s.addr)
	var d net.Dialer
	conn, err := d.DialContext(s.ctx, "tcp", s.addr)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to connect")
	}
	return conn, nil
}

func (s *Socket) readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if line != "" && err == io.EOF {
				s.events.OnSocketMessage(strings.TrimSuffix(line, "\r"))
			}
			if err == io.EOF {
				return
			}
			s.mu.Lock()
			expected := s.conn == nil
			s.mu.Unlock()
			if !expected {
				s.events.OnSocketError(fmt.Sprintf("Failed to read from socket: %v", err))
			}
			return
		}
		s.events.OnSocketMessage(strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"))
	}
}
