package api

import (
	"encoding/json"

	"apprtc/native/internal/domain"

	"github.com/pkg/errors"
)

// Payload types carried by the room server and the direct channel.
const (
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeCandidate        = "candidate"
	TypeRemoveCandidates = "remove-candidates"
	TypeBye              = "bye"
)

var (
	// ErrMalformedMessage is wrapped when a payload is not a JSON object.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrMissingField is wrapped when a payload lacks a field its type requires.
	ErrMissingField = errors.New("missing required field")
)

// Message is a decoded signaling payload. Which fields are set depends on Type.
type Message struct {
	Type        string
	Description *domain.SessionDescription
	Candidate   *domain.ICECandidate
	Candidates  []domain.ICECandidate
}

type candidateJSON struct {
	Type      string `json:"type"`
	Label     int    `json:"label"`
	ID        string `json:"id"`
	Candidate string `json:"candidate"`
}

type removalsJSON struct {
	Type       string          `json:"type"`
	Candidates []candidateJSON `json:"candidates"`
}

type inboundCandidate struct {
	Label     *int    `json:"label"`
	ID        *string `json:"id"`
	Candidate *string `json:"candidate"`
}

type inboundJSON struct {
	inboundCandidate
	Type       string             `json:"type"`
	SDP        *string            `json:"sdp"`
	Candidates []inboundCandidate `json:"candidates"`
}

func toCandidateJSON(c domain.ICECandidate) candidateJSON {
	return candidateJSON{Type: TypeCandidate, Label: c.SDPMLineIndex, ID: c.SDPMid, Candidate: c.Candidate}
}

func (c inboundCandidate) toDomain() (domain.ICECandidate, error) {
	switch {
	case c.Label == nil:
		return domain.ICECandidate{}, errors.Wrap(ErrMissingField, "label")
	case c.ID == nil:
		return domain.ICECandidate{}, errors.Wrap(ErrMissingField, "id")
	case c.Candidate == nil:
		return domain.ICECandidate{}, errors.Wrap(ErrMissingField, "candidate")
	}
	return domain.ICECandidate{SDPMid: *c.ID, SDPMLineIndex: *c.Label, Candidate: *c.Candidate}, nil
}

// MarshalSessionDescription encodes {"type":"offer"|"answer","sdp":...}.
func MarshalSessionDescription(sdp domain.SessionDescription) string {
	return mustMarshal(sdp)
}

// MarshalCandidate encodes {"type":"candidate","label":...,"id":...,"candidate":...}.
func MarshalCandidate(c domain.ICECandidate) string {
	return mustMarshal(toCandidateJSON(c))
}

// MarshalCandidateRemovals encodes {"type":"remove-candidates","candidates":[...]}.
func MarshalCandidateRemovals(cs []domain.ICECandidate) string {
	out := removalsJSON{Type: TypeRemoveCandidates, Candidates: make([]candidateJSON, 0, len(cs))}
	for _, c := range cs {
		out.Candidates = append(out.Candidates, toCandidateJSON(c))
	}
	return mustMarshal(out)
}

// MarshalBye encodes {"type":"bye"}.
func MarshalBye() string {
	return `{"type":"bye"}`
}

// mustMarshal encodes values whose types always marshal.
func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// ParseMessage decodes a signaling payload. Unknown types are returned with
// only Type set so the caller can decide how to treat them.
func ParseMessage(text string) (*Message, error) {
	var in inboundJSON
	if err := json.Unmarshal([]byte(text), &in); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if in.Type == "" {
		return nil, errors.Wrap(ErrMissingField, "type")
	}

	msg := &Message{Type: in.Type}
	switch in.Type {
	case TypeOffer, TypeAnswer:
		if in.SDP == nil {
			return nil, errors.Wrap(ErrMissingField, "sdp")
		}
		msg.Description = &domain.SessionDescription{Type: domain.SDPType(in.Type), SDP: *in.SDP}
	case TypeCandidate:
		c, err := in.inboundCandidate.toDomain()
		if err != nil {
			return nil, err
		}
		msg.Candidate = &c
	case TypeRemoveCandidates:
		if in.Candidates == nil {
			return nil, errors.Wrap(ErrMissingField, "candidates")
		}
		msg.Candidates = make([]domain.ICECandidate, 0, len(in.Candidates))
		for _, ic := range in.Candidates {
			c, err := ic.toDomain()
			if err != nil {
				return nil, err
			}
			msg.Candidates = append(msg.Candidates, c)
		}
	}
	return msg, nil
}
