package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Type is the discriminator of a signaling envelope.
type Type string

// Message type constants.
const (
	TypeJoin         Type = "join"
	TypeJoined       Type = "joined"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
)

// Envelope is the JSON wire shape shared by client and server.
type Envelope struct {
	Type    Type            `json:"type"`
	From    string          `json:"from"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is one of Join, Joined, Offer, Answer or ICECandidate.
type Message interface {
	MessageType() Type
	Sender() string
	envelope() (*Envelope, error)
}

// Join announces a participant entering a room.
type Join struct {
	From   string
	RoomID string
}

// Participant identifies a room member. Older servers send uid instead of clientId.
type Participant struct {
	ClientID string `json:"clientId,omitempty"`
	UID      string `json:"uid,omitempty"`
}

// ID returns whichever identifier the participant carries.
func (p Participant) ID() string {
	if p.ClientID != "" {
		return p.ClientID
	}
	return p.UID
}

// Joined lists the members already present when the receiver joined.
type Joined struct {
	From         string
	Participants []Participant
}

// Offer carries an SDP offer. Call marks offers that need user admission.
type Offer struct {
	From string
	To   string
	SDP  webrtc.SessionDescription
	Call bool
}

// Answer carries an SDP answer.
type Answer struct {
	From string
	To   string
	SDP  webrtc.SessionDescription
}

// ICECandidate carries one trickled candidate.
type ICECandidate struct {
	From      string
	To        string
	Candidate webrtc.ICECandidateInit
}

type joinPayload struct {
	RoomID string `json:"roomId,omitempty"`
}

type joinedPayload struct {
	Participants []Participant `json:"participants"`
}

type sdpPayload struct {
	SDP  webrtc.SessionDescription `json:"sdp"`
	Call bool                      `json:"call,omitempty"`
}

func (m *Join) MessageType() Type         { return TypeJoin }
func (m *Joined) MessageType() Type       { return TypeJoined }
func (m *Offer) MessageType() Type        { return TypeOffer }
func (m *Answer) MessageType() Type       { return TypeAnswer }
func (m *ICECandidate) MessageType() Type { return TypeICECandidate }

func (m *Join) Sender() string         { return m.From }
func (m *Joined) Sender() string       { return m.From }
func (m *Offer) Sender() string        { return m.From }
func (m *Answer) Sender() string       { return m.From }
func (m *ICECandidate) Sender() string { return m.From }

func (m *Join) envelope() (*Envelope, error) {
	return newEnvelope(TypeJoin, m.From, "", joinPayload{RoomID: m.RoomID})
}

func (m *Joined) envelope() (*Envelope, error) {
	return newEnvelope(TypeJoined, m.From, "", joinedPayload{Participants: m.Participants})
}

func (m *Offer) envelope() (*Envelope, error) {
	return newEnvelope(TypeOffer, m.From, m.To, sdpPayload{SDP: m.SDP, Call: m.Call})
}

func (m *Answer) envelope() (*Envelope, error) {
	return newEnvelope(TypeAnswer, m.From, m.To, sdpPayload{SDP: m.SDP})
}

func (m *ICECandidate) envelope() (*Envelope, error) {
	return newEnvelope(TypeICECandidate, m.From, m.To, m.Candidate)
}

func newEnvelope(t Type, from, to string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return &Envelope{Type: t, From: from, To: to, Payload: raw}, nil
}

// Encode serializes m into its wire form.
func Encode(m Message) ([]byte, error) {
	env, err := m.envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses a wire message into its typed variant.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return env.Message()
}

// Message converts the envelope into its typed variant.
func (e *Envelope) Message() (Message, error) {
	switch e.Type {
	case TypeJoin:
		var p joinPayload
		if err := decodePayload(e, &p); err != nil {
			return nil, err
		}
		return &Join{From: e.From, RoomID: p.RoomID}, nil

	case TypeJoined:
		var p joinedPayload
		if err := decodePayload(e, &p); err != nil {
			return nil, err
		}
		return &Joined{From: e.From, Participants: p.Participants}, nil

	case TypeOffer:
		var p sdpPayload
		if err := decodePayload(e, &p); err != nil {
			return nil, err
		}
		return &Offer{From: e.From, To: e.To, SDP: p.SDP, Call: p.Call}, nil

	case TypeAnswer:
		var p sdpPayload
		if err := decodePayload(e, &p); err != nil {
			return nil, err
		}
		return &Answer{From: e.From, To: e.To, SDP: p.SDP}, nil

	case TypeICECandidate:
		var c webrtc.ICECandidateInit
		if err := decodePayload(e, &c); err != nil {
			return nil, err
		}
		return &ICECandidate{From: e.From, To: e.To, Candidate: c}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
}

func decodePayload(e *Envelope, v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}
