package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	MessageTypeRegister  MessageType = "register"
	MessageTypeAccept    MessageType = "accept"
	MessageTypeReject    MessageType = "reject"
	MessageTypeOffer     MessageType = "offer"
	MessageTypeAnswer    MessageType = "answer"
	MessageTypeCandidate MessageType = "candidate"
	MessageTypeBye       MessageType = "bye"
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
)

// Reject reasons sent to clients.
const (
	ReasonInvalid             = "invalid"
	ReasonFull                = "full"
	ReasonInternalServerError = "InternalServerError"
)

// Candidate is the `ice` payload of a candidate message. Members it does not
// model are kept and written back out, so a forwarded candidate loses
// nothing a browser put in it.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`

	extra map[string]json.RawMessage
}

// candidateFields has Candidate's layout without its JSON methods.
type candidateFields struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

var candidateKeys = []string{"candidate", "sdpMid", "sdpMLineIndex", "usernameFragment"}

func (c *Candidate) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	var f candidateFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	for _, k := range candidateKeys {
		delete(members, k)
	}
	*c = Candidate{
		Candidate:        f.Candidate,
		SDPMid:           f.SDPMid,
		SDPMLineIndex:    f.SDPMLineIndex,
		UsernameFragment: f.UsernameFragment,
	}
	if len(members) > 0 {
		c.extra = members
	}
	return nil
}

func (c Candidate) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(candidateFields{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
	if err != nil || len(c.extra) == 0 {
		return known, err
	}

	members := make(map[string]json.RawMessage, len(c.extra)+len(candidateKeys))
	for k, v := range c.extra {
		members[k] = v
	}
	var modelled map[string]json.RawMessage
	if err := json.Unmarshal(known, &modelled); err != nil {
		return nil, err
	}
	for k, v := range modelled {
		members[k] = v
	}
	return json.Marshal(members)
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is a single Ayame protocol frame. Only the fields meaningful to Type
// are populated; Decode strips everything else.
type Message struct {
	Type MessageType `json:"type"`

	// register
	RoomID        string          `json:"roomId,omitempty"`
	ClientID      string          `json:"clientId,omitempty"`
	Key           string          `json:"key,omitempty"`
	SignalingKey  string          `json:"signalingKey,omitempty"`
	AuthnMetadata json.RawMessage `json:"authnMetadata,omitempty"`
	AyameClient   string          `json:"ayameClient,omitempty"`
	Environment   string          `json:"environment,omitempty"`
	Libwebrtc     string          `json:"libwebrtc,omitempty"`

	// accept
	AuthzMetadata json.RawMessage    `json:"authzMetadata,omitempty"`
	IsExistClient *bool              `json:"isExistClient,omitempty"`
	IsExistUser   *bool              `json:"isExistUser,omitempty"`
	ICEServers    []webrtc.ICEServer `json:"iceServers,omitempty"`

	// reject
	Reason string `json:"reason,omitempty"`

	// offer, answer
	SDP string `json:"sdp,omitempty"`

	// candidate
	ICE *Candidate `json:"ice,omitempty"`
}

func NewAccept(isExistClient bool, iceServers []webrtc.ICEServer, authzMetadata json.RawMessage) Message {
	return Message{
		Type:          MessageTypeAccept,
		IsExistClient: &isExistClient,
		IsExistUser:   &isExistClient,
		ICEServers:    iceServers,
		AuthzMetadata: authzMetadata,
	}
}

func NewReject(reason string) Message {
	return Message{Type: MessageTypeReject, Reason: reason}
}

func NewBye() Message  { return Message{Type: MessageTypeBye} }
func NewPing() Message { return Message{Type: MessageTypePing} }
func NewPong() Message { return Message{Type: MessageTypePong} }

// Decode parses a single JSON text frame. Unknown fields are tolerated because
// Ayame SDKs attach client specific keys, but a frame must hold exactly one
// JSON object of a known type with the fields its type requires.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrUnexpectedJSON, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("%w: unexpected trailing data", ErrUnexpectedJSON)
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg.trimmed(), nil
}

func Encode(msg Message) ([]byte, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg.trimmed())
}

func (m Message) validate() error {
	switch m.Type {
	case MessageTypeRegister, MessageTypeBye, MessageTypePing, MessageTypePong:
	case MessageTypeAccept:
		if m.IsExistClient == nil {
			return fmt.Errorf("%w: accept message missing isExistClient", ErrUnexpectedJSON)
		}
	case MessageTypeReject:
		if m.Reason == "" {
			return fmt.Errorf("%w: reject message missing reason", ErrUnexpectedJSON)
		}
	case MessageTypeOffer, MessageTypeAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%w: %s message missing sdp", ErrUnexpectedJSON, m.Type)
		}
	case MessageTypeCandidate:
		if m.ICE == nil {
			return fmt.Errorf("%w: candidate message missing ice", ErrUnexpectedJSON)
		}
	case "":
		return fmt.Errorf("%w: missing type", ErrUnexpectedJSON)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMessageType, m.Type)
	}
	return nil
}

// trimmed returns a copy holding only the fields that belong to m.Type.
func (m Message) trimmed() Message {
	out := Message{Type: m.Type}
	switch m.Type {
	case MessageTypeRegister:
		out.RoomID = m.RoomID
		out.ClientID = m.ClientID
		out.Key = m.Key
		out.SignalingKey = m.SignalingKey
		out.AuthnMetadata = m.AuthnMetadata
		out.AyameClient = m.AyameClient
		out.Environment = m.Environment
		out.Libwebrtc = m.Libwebrtc
	case MessageTypeAccept:
		out.AuthzMetadata = m.AuthzMetadata
		out.IsExistClient = m.IsExistClient
		out.IsExistUser = m.IsExistUser
		out.ICEServers = m.ICEServers
	case MessageTypeReject:
		out.Reason = m.Reason
	case MessageTypeOffer, MessageTypeAnswer:
		out.SDP = m.SDP
	case MessageTypeCandidate:
		ice := *m.ICE
		out.ICE = &ice
	}
	return out
}
