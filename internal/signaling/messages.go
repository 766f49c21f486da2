package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

type messageType string

// Client to server.
const (
	messageTypeRegister        messageType = "register"
	messageTypeRegisterDesktop messageType = "registerDesktop"
	messageTypeGetOnlineUsers  messageType = "getOnlineUsers"
	messageTypeOffer           messageType = "offer"
	messageTypeAnswer          messageType = "answer"
	messageTypeCandidate       messageType = "candidate"
	messageTypeRequestStream   messageType = "requestStream"
	messageTypeStopStream      messageType = "stopStream"
	messageTypePing            messageType = "ping"
	messageTypeKeepAlive       messageType = "keepAlive"
	messageTypeClose           messageType = "close"
)

// Server to client.
const (
	messageTypeWelcome     messageType = "welcome"
	messageTypeRegistered  messageType = "registered"
	messageTypeEvent       messageType = "event"
	messageTypeOnlineUsers messageType = "onlineUsers"
	messageTypeError       messageType = "error"
)

type sdp struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func sdpFromPion(desc webrtc.SessionDescription) sdp {
	return sdp{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s sdp) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// validate checks that s is a parseable session description of the wanted
// type.
func (s sdp) validate(want webrtc.SDPType) error {
	desc, err := s.ToPion()
	if err != nil {
		return err
	}
	if desc.Type != want {
		return fmt.Errorf("sdp.type must be %q", want.String())
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("invalid sdp: %w", err)
	}
	return nil
}

type candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func candidateFromPion(init webrtc.ICECandidateInit) candidate {
	return candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// clientMessage is the envelope of every frame a peer sends.
type clientMessage struct {
	Type messageType `json:"type"`

	UserID       string `json:"userId,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	GroupID      string `json:"groupId,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`

	SDP       *sdp       `json:"sdp,omitempty"`
	Candidate *candidate `json:"candidate,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := expectEOF(dec); err != nil {
		return clientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func expectEOF(dec *json.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// fields reports whether any identity or signaling field is set.
func (m clientMessage) fields() (identityFields, signalFields bool) {
	identityFields = m.UserID != "" || m.ClientID != "" || m.GroupID != "" || m.TargetUserID != ""
	signalFields = m.SDP != nil || m.Candidate != nil
	return identityFields, signalFields
}

func (m clientMessage) validate() error {
	ids, signals := m.fields()
	switch m.Type {
	case messageTypeRegister:
		if m.UserID == "" {
			return errors.New("register message missing userId")
		}
		if m.ClientID != "" || m.TargetUserID != "" || signals {
			return errors.New("register message has unexpected fields")
		}
	case messageTypeRegisterDesktop:
		if m.ClientID == "" {
			return errors.New("registerDesktop message missing clientId")
		}
		if m.UserID != "" || m.TargetUserID != "" || signals {
			return errors.New("registerDesktop message has unexpected fields")
		}
	case messageTypeOffer:
		if m.SDP == nil {
			return errors.New("offer message missing sdp")
		}
		if ids || m.Candidate != nil {
			return errors.New("offer message has unexpected fields")
		}
		return m.SDP.validate(webrtc.SDPTypeOffer)
	case messageTypeAnswer:
		if m.SDP == nil {
			return errors.New("answer message missing sdp")
		}
		if ids || m.Candidate != nil {
			return errors.New("answer message has unexpected fields")
		}
		return m.SDP.validate(webrtc.SDPTypeAnswer)
	case messageTypeCandidate:
		if m.Candidate == nil {
			return errors.New("candidate message missing candidate")
		}
		if ids || m.SDP != nil {
			return errors.New("candidate message has unexpected fields")
		}
	case messageTypeRequestStream:
		if m.TargetUserID == "" {
			return errors.New("requestStream message missing targetUserId")
		}
		if m.UserID != "" || m.ClientID != "" || m.GroupID != "" || signals {
			return errors.New("requestStream message has unexpected fields")
		}
	case messageTypeGetOnlineUsers, messageTypeStopStream, messageTypePing, messageTypeKeepAlive, messageTypeClose:
		if ids || signals {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

type welcomeMessage struct {
	Type         messageType           `json:"type"`
	ConnectionID identity.ConnectionID `json:"connectionId"`
}

type registeredMessage struct {
	Type   messageType     `json:"type"`
	UserID identity.UserID `json:"userId"`
}

// eventMessage carries one Messenger event. Signaling events put the
// sender's connection in From and the relayed description or candidate in
// Payload.
type eventMessage struct {
	Type    messageType           `json:"type"`
	Event   coordinator.Event     `json:"event"`
	From    identity.ConnectionID `json:"from,omitempty"`
	Payload any                   `json:"payload,omitempty"`
}

type onlineUsersMessage struct {
	Type  messageType              `json:"type"`
	Users []coordinator.OnlineUser `json:"users"`
}

type errorMessage struct {
	Type    messageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

func encodeEvent(event coordinator.Event, payload any) ([]byte, error) {
	msg := eventMessage{Type: messageTypeEvent, Event: event, Payload: payload}
	if sig, ok := payload.(coordinator.Signal); ok {
		msg.From = sig.From
		msg.Payload = sig.Data
	}
	return json.Marshal(msg)
}
