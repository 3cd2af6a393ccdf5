package domain

import "time"

// Registration is returned by the platform when a participant is
// associated with the signaling relay.
type Registration struct {
	ParticipantID ParticipantID `json:"participantId"`
	RelayToken    string        `json:"relayToken"`
	SignalServer  string        `json:"signalServer"`
	ICEServers    []ICEServer   `json:"iceServers"`
	ExpiresAt     time.Time     `json:"-"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
