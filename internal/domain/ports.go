package domain

import "context"

// RoomClient is the signaling transport used by a call. Both the room server
// client and the direct TCP client implement it. Methods may be called from
// any goroutine; the work is serialized on the client's own looper.
type RoomClient interface {
	ConnectToRoom(params RoomConnectionParameters)
	SendOfferSDP(sdp SessionDescription)
	SendAnswerSDP(sdp SessionDescription)
	SendLocalICECandidate(candidate ICECandidate)
	SendLocalICECandidateRemovals(candidates []ICECandidate)
	DisconnectFromRoom()
}

// SignalingEvents receives the outcome of room signaling. All callbacks of a
// single RoomClient are delivered on the same goroutine, one at a time.
type SignalingEvents interface {
	// OnConnectedToRoom fires once the room is joined and the local role is known.
	OnConnectedToRoom(params *SignalingParameters)
	OnRemoteDescription(sdp SessionDescription)
	OnRemoteICECandidate(candidate ICECandidate)
	OnRemoteICECandidatesRemoved(candidates []ICECandidate)
	OnChannelClose()
	OnChannelError(description string)
}

// ParametersFetcher joins a room on the room server.
type ParametersFetcher interface {
	FetchRoomParameters(ctx context.Context, params RoomConnectionParameters) (*SignalingParameters, error)
}

// Peer manages the WebRTC peer connection.
type Peer interface {
	SetOnICECandidate(send func(candidate ICECandidate))
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetRemoteDescription(sdp SessionDescription) error
	AddRemoteICECandidate(candidate ICECandidate) error
	Close()
}
