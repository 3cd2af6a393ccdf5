package domain

import (
	"fmt"
)

// MessageType tags a signaling message.
type MessageType string

const (
	MsgCallRequest  MessageType = "CALL_REQUEST"
	MsgCallAccepted MessageType = "CALL_ACCEPTED"
	MsgCallRejected MessageType = "CALL_REJECTED"
	MsgOffer        MessageType = "OFFER"
	MsgAnswer       MessageType = "ANSWER"
	MsgICECandidate MessageType = "ICE_CANDIDATE"
	MsgHangUp       MessageType = "HANG_UP"
)

// Known reports whether t is one of the seven signaling tags.
func (t MessageType) Known() bool {
	switch t {
	case MsgCallRequest, MsgCallAccepted, MsgCallRejected,
		MsgOffer, MsgAnswer, MsgICECandidate, MsgHangUp:
		return true
	}
	return false
}

// SessionDescription is the JSON structure for SDP offer/answer payloads.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the JSON structure for ICE candidate payloads.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Message is the signaling envelope exchanged through the relay.
type Message struct {
	Type         MessageType         `json:"type"`
	Sender       ParticipantID       `json:"senderUserId"`
	Target       ParticipantID       `json:"targetUserId"`
	CallID       string              `json:"callId,omitempty"`
	Offer        *SessionDescription `json:"offer,omitempty"`
	Answer       *SessionDescription `json:"answer,omitempty"`
	Candidate    *Candidate          `json:"candidate,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
}

// Validate checks that the message carries the payload its type requires.
func (m Message) Validate() error {
	if !m.Type.Known() {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Sender == "" || m.Target == "" {
		return fmt.Errorf("%s: sender and target are required", m.Type)
	}
	switch m.Type {
	case MsgOffer:
		if m.Offer == nil || m.Offer.SDP == "" {
			return fmt.Errorf("OFFER without session description")
		}
	case MsgAnswer:
		if m.Answer == nil || m.Answer.SDP == "" {
			return fmt.Errorf("ANSWER without session description")
		}
	case MsgICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("ICE_CANDIDATE without candidate")
		}
	}
	return nil
}
