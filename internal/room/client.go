// Package room implements the room signaling clients. NewClient picks the
// transport from the room id: an IP address connects straight to the peer
// over TCP, anything else goes through the room server.
package room

import (
	"net/url"

	"apprtc/native/internal/domain"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyRoomID is returned when no room id is given.
	ErrEmptyRoomID = errors.New("room id is empty")
	// ErrInvalidRoomURL is returned when the room server URL is unusable.
	ErrInvalidRoomURL = errors.New("invalid room server URL")
)

// NewClient validates params and creates the matching room client. The
// choice is made once; the returned client never switches transport.
func NewClient(params domain.RoomConnectionParameters, events domain.SignalingEvents, opts ...Option) (domain.RoomClient, error) {
	if params.RoomID == "" {
		return nil, ErrEmptyRoomID
	}
	if !params.Loopback && IsDirectRoomID(params.RoomID) {
		return NewDirectClient(events, opts...), nil
	}

	u, err := url.Parse(params.RoomServerURL)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRoomURL, err.Error())
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Wrapf(ErrInvalidRoomURL, "%q", params.RoomServerURL)
	}
	return NewWebSocketClient(events, opts...), nil
}
