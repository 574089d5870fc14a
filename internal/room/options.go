package room

import (
	"time"

	"apprtc/native/internal/api"
	"apprtc/native/internal/domain"
	"apprtc/native/internal/looper"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// ErrLoopbackBusy is reported when a loopback join lands in a room that is
// not empty.
var ErrLoopbackBusy = errors.New("loopback room is busy")

// LoopbackCheck validates the joined parameters of a loopback call.
type LoopbackCheck func(params *domain.SignalingParameters) error

// DefaultLoopbackCheck accepts only a fresh room: this side must be the
// initiator and no offer may be waiting.
func DefaultLoopbackCheck(params *domain.SignalingParameters) error {
	if !params.Initiator || params.OfferSDP != nil {
		return ErrLoopbackBusy
	}
	return nil
}

type options struct {
	looper        *looper.Looper
	loggerFactory logging.LoggerFactory
	http          *api.Client
	fetcher       domain.ParametersFetcher
	dialer        *websocket.Dialer
	closeTimeout  time.Duration
	pingInterval  time.Duration
	loopbackCheck LoopbackCheck
}

// Option configures a room client.
type Option func(*options)

// WithLooper runs the client on lp instead of a looper of its own. The caller
// keeps ownership of lp.
func WithLooper(lp *looper.Looper) Option {
	return func(o *options) { o.looper = lp }
}

// WithLoggerFactory sets the logger factory.
func WithLoggerFactory(lf logging.LoggerFactory) Option {
	return func(o *options) { o.loggerFactory = lf }
}

// WithHTTPClient sets the room server HTTP client.
func WithHTTPClient(c *api.Client) Option {
	return func(o *options) { o.http = c }
}

// WithParametersFetcher replaces the room join request.
func WithParametersFetcher(f domain.ParametersFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithDialer sets the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithCloseTimeout bounds the wait for the WebSocket to close on disconnect.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) { o.closeTimeout = d }
}

// WithPingInterval enables WebSocket keepalive pings.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// WithLoopbackCheck replaces DefaultLoopbackCheck.
func WithLoopbackCheck(check LoopbackCheck) Option {
	return func(o *options) { o.loopbackCheck = check }
}

// build fills in defaults. owned reports whether the looper was created here.
func build(name string, opts []Option) (o options, owned bool) {
	for _, opt := range opts {
		opt(&o)
	}
	if o.loggerFactory == nil {
		o.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	if o.looper == nil {
		o.looper = looper.New(name, o.loggerFactory)
		owned = true
	}
	if o.http == nil {
		o.http = api.NewClient(nil, o.loggerFactory)
	}
	if o.fetcher == nil {
		o.fetcher = o.http
	}
	if o.loopbackCheck == nil {
		o.loopbackCheck = DefaultLoopbackCheck
	}
	return o, owned
}
