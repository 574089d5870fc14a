package domain

// RoomConnectionParameters identify the room to join. They are fixed for the
// lifetime of a connection attempt.
type RoomConnectionParameters struct {
	RoomServerURL string
	RoomID        string
	Loopback      bool
	// URLParameters is an optional raw query string appended to room server URLs.
	URLParameters string
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// SignalingParameters are negotiated with the room server when joining.
// Initiator is decided once here and never changes for the call.
type SignalingParameters struct {
	ICEServers    []ICEServer
	Initiator     bool
	ClientID      string
	WssURL        string
	WssPostURL    string
	OfferSDP      *SessionDescription
	ICECandidates []ICECandidate
}
